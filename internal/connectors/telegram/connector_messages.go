package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/replies"
)

func (c *Connector) handleMessage(ctx context.Context, message telegramMessage) error {
	if message.From.IsBot {
		return nil
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		text = strings.TrimSpace(message.Caption)
	}
	if text == "" {
		return nil
	}
	chatID := strconv.FormatInt(message.Chat.ID, 10)
	input := gateway.MessageInput{
		Connector:   connectorName,
		ExternalID:  chatID,
		DisplayName: message.Chat.Title,
		FromUserID:  strconv.FormatInt(message.From.ID, 10),
		MessageID:   composeMessageID(message.Chat.ID, message.MessageID),
		Text:        text,
	}
	if quoted := message.ReplyToMessage; quoted != nil {
		input.QuotedMessageID = composeMessageID(message.Chat.ID, quoted.MessageID)
		if file := quoted.attachment(); file != nil {
			input.Quote = &replies.Attachment{
				FileID:       file.FileID,
				FileUniqueID: file.FileUniqueID,
				FileName:     file.FileName,
				MimeType:     file.MimeType,
				Width:        file.Width,
				Height:       file.Height,
				Duration:     file.Duration,
				SizeBytes:    file.FileSize,
			}
		}
	}
	c.logger.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"from", userDisplayName(message.From),
		"is_reply", input.QuotedMessageID != "",
	)

	output, err := c.gateway.HandleMessage(ctx, input)
	if err != nil {
		return err
	}
	if !output.Handled || strings.TrimSpace(output.Reply) == "" {
		return nil
	}
	_, err = c.sendMessage(ctx, message.Chat.ID, output.Reply, message.MessageID)
	return err
}

// handleReaction forwards the emoji reactions that were just added.
func (c *Connector) handleReaction(ctx context.Context, update telegramMessageReaction) {
	if update.User == nil || update.User.IsBot {
		return
	}
	for _, entry := range update.NewReaction {
		if entry.Type != "emoji" || strings.TrimSpace(entry.Emoji) == "" {
			continue
		}
		handled := c.gateway.HandleReaction(ctx, replies.Reaction{
			Connector: connectorName,
			ThreadID:  strconv.FormatInt(update.Chat.ID, 10),
			MessageID: composeMessageID(update.Chat.ID, update.MessageID),
			UserID:    strconv.FormatInt(update.User.ID, 10),
			Emoji:     entry.Emoji,
		})
		if handled {
			return
		}
	}
}
