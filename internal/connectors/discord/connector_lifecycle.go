package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10

	minReconnectDelay = 2 * time.Second
	maxReconnectDelay = time.Minute
)

var errReconnectRequested = errors.New("gateway requested reconnect")

// Start keeps one gateway session open at a time and reconnects with a
// doubling delay after a session ends. It waits for in-flight deliveries
// before returning.
func (c *Connector) Start(ctx context.Context) error {
	if disabled := c.disabledReason(); disabled != "" {
		c.report(func() { c.reporter.Disabled(heartbeatComponent, disabled) })
		c.logger.Info("connector disabled", "reason", disabled)
		<-ctx.Done()
		return nil
	}
	defer c.inflight.Wait()
	c.report(func() { c.reporter.Starting(heartbeatComponent, "connecting to gateway") })
	c.logger.Info("connector started", "mode", "gateway", "staging_channel", c.stagingChannelID != "")

	if c.commandSync {
		if err := c.syncCommands(ctx); err != nil {
			c.logger.Warn("discord command sync failed", "error", err)
		} else {
			c.logger.Info("discord commands synced", "guild_count", len(c.commandGuildIDs))
		}
	}

	delay := minReconnectDelay
	for ctx.Err() == nil {
		started := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			break
		}
		if time.Since(started) > maxReconnectDelay {
			delay = minReconnectDelay
		}
		c.report(func() { c.reporter.Degrade(heartbeatComponent, "gateway session ended", err) })
		c.logger.Warn("discord session ended, reconnecting", "error", err, "delay", delay.String())
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
	c.report(func() { c.reporter.Stopped(heartbeatComponent, "stopped") })
	c.logger.Info("connector stopped")
	return nil
}

func (c *Connector) disabledReason() string {
	switch {
	case c.token == "":
		return "token missing"
	case c.gateway == nil:
		return "command gateway missing"
	}
	return ""
}

func (c *Connector) report(fn func()) {
	if c.reporter != nil {
		fn()
	}
}

// gatewaySession is one websocket connection. Writes are serialised because
// the heartbeat ticker and the read loop both send.
type gatewaySession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	seq     atomic.Int64
}

func (s *gatewaySession) send(op int, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]any{"op": op, "d": data})
}

func (s *gatewaySession) read() (gatewayEnvelope, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return gatewayEnvelope{}, err
	}
	var envelope gatewayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return gatewayEnvelope{}, fmt.Errorf("decode gateway envelope: %w", err)
	}
	if envelope.S != nil {
		s.seq.Store(*envelope.S)
	}
	return envelope, nil
}

func (s *gatewaySession) awaitHello() (time.Duration, error) {
	for {
		envelope, err := s.read()
		if err != nil {
			return 0, fmt.Errorf("read hello: %w", err)
		}
		if envelope.Op != opHello {
			continue
		}
		var hello discordHello
		if err := json.Unmarshal(envelope.D, &hello); err != nil {
			return 0, fmt.Errorf("decode hello: %w", err)
		}
		return time.Duration(hello.HeartbeatIntervalMS) * time.Millisecond, nil
	}
}

func (s *gatewaySession) heartbeat(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval < time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(opHeartbeat, s.seq.Load()); err != nil {
				onError(err)
				return
			}
		}
	}
}

func (c *Connector) runSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial discord gateway: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	session := &gatewaySession{conn: conn}
	interval, err := session.awaitHello()
	if err != nil {
		return err
	}
	if err := session.send(opIdentify, c.identifyPayload()); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	c.report(func() { c.reporter.Beat(heartbeatComponent, "gateway session established") })

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go session.heartbeat(heartbeatCtx, interval, func(err error) {
		c.logger.Error("gateway heartbeat failed", "error", err)
		_ = conn.Close()
	})

	for {
		envelope, err := session.read()
		if err != nil {
			return fmt.Errorf("read gateway message: %w", err)
		}
		switch envelope.Op {
		case opDispatch:
			c.report(func() { c.reporter.Beat(heartbeatComponent, "gateway event received") })
			c.dispatchEvent(ctx, envelope)
		case opHeartbeat:
			if err := session.send(opHeartbeat, session.seq.Load()); err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
		case opReconnect:
			return errReconnectRequested
		case opInvalidSession:
			return errors.New("gateway invalid session")
		}
	}
}

func (c *Connector) identifyPayload() map[string]any {
	return map[string]any{
		"token": c.token,
		"intents": discordIntentGuilds |
			discordIntentGuildMessages |
			discordIntentGuildMessageReactions |
			discordIntentDirectMessages |
			discordIntentDirectMessageReactions |
			discordIntentMessageContents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "media-relay",
			"device":  "media-relay",
		},
	}
}

// dispatchEvent decodes a dispatch payload and handles it off the read loop,
// since a media delivery can take minutes.
func (c *Connector) dispatchEvent(ctx context.Context, envelope gatewayEnvelope) {
	switch envelope.T {
	case "READY":
		var ready discordReady
		if err := json.Unmarshal(envelope.D, &ready); err == nil {
			c.botUser.Store(strings.TrimSpace(ready.User.ID))
		}
	case "MESSAGE_CREATE":
		var message discordMessageCreate
		if err := json.Unmarshal(envelope.D, &message); err != nil {
			c.logger.Error("decode message create failed", "error", err)
			return
		}
		c.goHandle(func() {
			if err := c.handleMessageCreate(ctx, message); err != nil {
				c.logger.Error("handle discord message failed", "error", err)
			}
		})
	case "MESSAGE_REACTION_ADD":
		var reaction discordReactionAdd
		if err := json.Unmarshal(envelope.D, &reaction); err != nil {
			c.logger.Error("decode reaction add failed", "error", err)
			return
		}
		c.goHandle(func() { c.handleReactionAdd(ctx, reaction) })
	case "INTERACTION_CREATE":
		var interaction discordInteractionCreate
		if err := json.Unmarshal(envelope.D, &interaction); err != nil {
			c.logger.Error("decode interaction create failed", "error", err)
			return
		}
		c.goHandle(func() {
			if err := c.handleInteractionCreate(ctx, interaction); err != nil {
				c.logger.Error("handle discord interaction failed", "error", err)
			}
		})
	}
}

// botID is the bot's own user id from READY, empty before the first session.
func (c *Connector) botID() string {
	id, _ := c.botUser.Load().(string)
	return id
}

func (c *Connector) goHandle(fn func()) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		fn()
	}()
}
