package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/heartbeat"
)

const alertSendTimeout = 8 * time.Second

// heartbeatNotifier posts degraded and recovered transitions to one
// operator thread on one of the running connectors.
type heartbeatNotifier struct {
	transport connectors.Transport
	threadID  string
	now       func() time.Time
	logger    *slog.Logger
}

func newHeartbeatNotifier(transports map[string]connectors.Transport, connector, threadID string, logger *slog.Logger) *heartbeatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	connector = strings.ToLower(strings.TrimSpace(connector))
	threadID = strings.TrimSpace(threadID)
	if connector == "" || threadID == "" {
		return nil
	}
	transport := transports[connector]
	if transport == nil {
		logger.Warn("heartbeat alerts disabled: connector is not running", "connector", connector)
		return nil
	}
	return &heartbeatNotifier{
		transport: transport,
		threadID:  threadID,
		now:       time.Now,
		logger:    logger,
	}
}

func (n *heartbeatNotifier) HandleTransition(ctx context.Context, transition heartbeat.Transition, snapshot heartbeat.Snapshot) {
	if n == nil {
		return
	}
	eventType := heartbeatTransitionType(transition)
	if eventType == "" {
		return
	}
	message := buildHeartbeatTransitionMessage(eventType, transition, snapshot, n.now())
	sendCtx, cancel := context.WithTimeout(ctx, alertSendTimeout)
	defer cancel()
	if err := n.transport.SendText(sendCtx, n.threadID, message); err != nil {
		n.logger.Error("heartbeat alert failed",
			"connector", n.transport.Name(),
			"thread_id", n.threadID,
			"component", transition.Component,
			"error", err,
		)
	}
}

func heartbeatTransitionType(transition heartbeat.Transition) string {
	fromDegraded := heartbeat.IsDegradedState(transition.FromState)
	toDegraded := heartbeat.IsDegradedState(transition.ToState)
	switch {
	case !fromDegraded && toDegraded:
		return "degraded"
	case fromDegraded && strings.EqualFold(strings.TrimSpace(transition.ToState), heartbeat.StateHealthy):
		return "recovered"
	default:
		return ""
	}
}

func buildHeartbeatTransitionMessage(eventType string, transition heartbeat.Transition, snapshot heartbeat.Snapshot, at time.Time) string {
	title := "media-relay recovered"
	if eventType == "degraded" {
		title = "media-relay degraded"
	}
	builder := strings.Builder{}
	builder.WriteString(title)
	builder.WriteString("\n- component: ")
	builder.WriteString(strings.TrimSpace(transition.Component))
	builder.WriteString("\n- state: ")
	builder.WriteString(strings.TrimSpace(transition.FromState))
	builder.WriteString(" -> ")
	builder.WriteString(strings.TrimSpace(transition.ToState))
	builder.WriteString("\n- overall: ")
	builder.WriteString(strings.TrimSpace(snapshot.Overall))
	if message := strings.TrimSpace(transition.Message); message != "" {
		builder.WriteString("\n- detail: ")
		builder.WriteString(truncateSingleLine(message, 500))
	}
	if errorText := strings.TrimSpace(transition.Error); errorText != "" {
		builder.WriteString("\n- error: ")
		builder.WriteString(truncateSingleLine(errorText, 500))
	}
	builder.WriteString("\n- at: ")
	builder.WriteString(at.UTC().Format(time.RFC3339))
	return builder.String()
}

func truncateSingleLine(input string, maxLen int) string {
	single := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if maxLen < 1 || len(single) <= maxLen {
		return single
	}
	return strings.TrimSpace(single[:maxLen]) + "..."
}
