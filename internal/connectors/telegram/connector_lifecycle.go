package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var allowedUpdates = []string{"message", "message_reaction"}

const (
	minPollBackoff = 1500 * time.Millisecond
	maxPollBackoff = 30 * time.Second
)

// Start long-polls getUpdates until ctx ends. Consecutive poll failures back
// off up to maxPollBackoff; one successful poll resets the delay.
func (c *Connector) Start(ctx context.Context) error {
	if disabled := c.disabledReason(); disabled != "" {
		c.report(func() { c.reporter.Disabled(heartbeatComponent, disabled) })
		c.logger.Info("connector disabled", "reason", disabled)
		<-ctx.Done()
		return nil
	}
	defer c.inflight.Wait()
	c.report(func() { c.reporter.Starting(heartbeatComponent, "loading bot identity") })
	c.logger.Info("connector started", "api_base", c.apiBase, "staging_chat", c.stagingChatID != "")
	c.prepare(ctx)

	backoff := minPollBackoff
	for ctx.Err() == nil {
		err := c.pollOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			backoff = minPollBackoff
			c.report(func() { c.reporter.Beat(heartbeatComponent, "poll cycle ok") })
			continue
		}
		c.report(func() { c.reporter.Degrade(heartbeatComponent, "poll failed", err) })
		c.logger.Error("poll failed", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxPollBackoff)
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

// prepare loads the bot identity and registers slash commands. Neither is
// fatal; polling works without them.
func (c *Connector) prepare(ctx context.Context) {
	username, err := c.fetchBotUsername(ctx)
	if err != nil {
		c.logger.Warn("telegram bot username lookup failed", "error", err)
	} else if username != "" {
		c.botUsername = username
		c.logger.Info("telegram bot identity loaded", "username", username)
	}
	if !c.commandSync {
		return
	}
	if err := c.syncCommands(ctx); err != nil {
		c.logger.Warn("telegram command sync failed", "error", err)
		return
	}
	c.logger.Info("telegram commands synced")
}

func (c *Connector) pollOnce(ctx context.Context) error {
	allowed, _ := json.Marshal(allowedUpdates)
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(c.pollSeconds))
	params.Set("offset", strconv.FormatInt(c.offset, 10))
	params.Set("allowed_updates", string(allowed))
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.apiBase, c.token, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return withoutURL("getUpdates", err)
	}
	defer res.Body.Close()

	var payload getUpdatesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram getUpdates failed")
	}

	for _, update := range payload.Result {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		if _, duplicate := c.seen.Get(update.UpdateID); duplicate {
			continue
		}
		c.seen.Add(update.UpdateID, struct{}{})
		if err := c.dispatch(ctx, update); err != nil {
			return err
		}
	}
	return nil
}

// dispatch hands the update to a worker. It blocks while all workers are
// busy, which also stops polling until one frees up.
func (c *Connector) dispatch(ctx context.Context, update telegramUpdate) error {
	if update.Message == nil && update.MessageReaction == nil {
		return nil
	}
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.workers.Release(1)
		c.handleUpdate(ctx, update)
	}()
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update telegramUpdate) {
	if update.Message != nil {
		if err := c.handleMessage(ctx, *update.Message); err != nil {
			c.logger.Error("handle message failed", "error", err, "update_id", update.UpdateID)
		}
	}
	if update.MessageReaction != nil {
		c.handleReaction(ctx, *update.MessageReaction)
	}
}
