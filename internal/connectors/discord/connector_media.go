package discord

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
)

func (c *Connector) SendList(ctx context.Context, threadID, text string) (string, error) {
	return c.sendChannelMessage(ctx, threadID, text, "")
}

func (c *Connector) SendText(ctx context.Context, threadID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := c.sendChannelMessage(ctx, threadID, text, "")
	return err
}

func (c *Connector) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	channelID := strings.TrimSpace(threadID)
	messageID = strings.TrimSpace(messageID)
	if channelID == "" || messageID == "" {
		return fmt.Errorf("discord channel and message id are required")
	}
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil)
}

// UploadAttachment posts the file to the staging channel, or to threadID when
// none is configured, and returns the attachment URL Discord serves it from.
func (c *Connector) UploadAttachment(ctx context.Context, localPath, threadID string, kind media.Kind) (string, error) {
	target := c.stagingChannelID
	if target == "" {
		target = strings.TrimSpace(threadID)
	}
	if target == "" {
		return "", fmt.Errorf("discord channel id is required")
	}
	var sent discordSentMessage
	if err := c.upload(ctx, fmt.Sprintf("/channels/%s/messages", target), map[string]any{}, localPath, &sent); err != nil {
		return "", err
	}
	if len(sent.Attachments) == 0 || strings.TrimSpace(sent.Attachments[0].URL) == "" {
		return "", fmt.Errorf("discord upload returned no attachment")
	}
	url := sent.Attachments[0].URL
	if c.stagingChannelID == "" {
		c.delivered.Add(deliveryKey(target, url), sent.ID)
	}
	c.logger.Info("discord upload stored",
		"channel_id", target,
		"kind", string(kind),
		"size", sent.Attachments[0].Size,
	)
	return url, nil
}

// SendMedia posts the deliverable URL, which Discord embeds inline. An upload
// that already landed in threadID is reused and only gets its caption.
func (c *Connector) SendMedia(ctx context.Context, threadID, deliverableURL string, kind media.Kind, caption string) (string, error) {
	channelID := strings.TrimSpace(threadID)
	key := deliveryKey(channelID, deliverableURL)
	if messageID, ok := c.delivered.Get(key); ok {
		c.delivered.Remove(key)
		if kind != media.KindSticker && strings.TrimSpace(caption) != "" {
			c.addCaption(ctx, channelID, messageID, caption)
		}
		return messageID, nil
	}
	content := deliverableURL
	if kind != media.KindSticker && strings.TrimSpace(caption) != "" {
		content = strings.TrimSpace(caption) + "\n" + deliverableURL
	}
	return c.sendChannelMessage(ctx, channelID, content, "")
}

func deliveryKey(channelID, url string) string {
	return channelID + "|" + url
}

func (c *Connector) addCaption(ctx context.Context, channelID, messageID, caption string) {
	err := c.call(ctx, http.MethodPatch, fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), map[string]any{
		"content": clipDiscordMessage(caption),
	}, nil)
	if err != nil {
		c.logger.Debug("discord caption not added", "message_id", messageID, "error", err)
	}
}
