package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/resolution"
	"github.com/dwizi/media-relay/internal/scheduler"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	backend          *cacheBackend
	caches           map[string]*resolution.Cache
	gateway          *gateway.Service
	httpServer       *http.Server
	scheduler        *scheduler.Service
	connectors       []connectors.Connector
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}

// mediaConnector is a chat connector that can also deliver resolved media.
type mediaConnector interface {
	connectors.Connector
	connectors.Transport
}
