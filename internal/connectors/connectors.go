package connectors

import (
	"context"

	"github.com/dwizi/media-relay/internal/media"
)

type Connector interface {
	Name() string
	Start(ctx context.Context) error
}

// Transport is the chat surface a flow talks to. Message ids are returned as
// strings so every connector can use its native id format.
type Transport interface {
	Name() string
	SendList(ctx context.Context, threadID, text string) (string, error)
	SendMedia(ctx context.Context, threadID, deliverableURL string, kind media.Kind, caption string) (string, error)
	UploadAttachment(ctx context.Context, localPath, threadID string, kind media.Kind) (string, error)
	SendText(ctx context.Context, threadID, text string) error
	DeleteMessage(ctx context.Context, threadID, messageID string) error
}
