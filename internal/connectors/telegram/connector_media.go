package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
)

type sendMethod struct {
	method string
	field  string
}

var sendMethods = map[media.Kind]sendMethod{
	media.KindVideo:    {method: "sendVideo", field: "video"},
	media.KindAudio:    {method: "sendAudio", field: "audio"},
	media.KindSticker:  {method: "sendSticker", field: "sticker"},
	media.KindImage:    {method: "sendPhoto", field: "photo"},
	media.KindDocument: {method: "sendDocument", field: "document"},
}

func methodFor(kind media.Kind) sendMethod {
	if method, ok := sendMethods[kind]; ok {
		return method
	}
	return sendMethods[media.KindDocument]
}

func (c *Connector) SendList(ctx context.Context, threadID, text string) (string, error) {
	chatID, err := parseChatID(threadID)
	if err != nil {
		return "", err
	}
	messageID, err := c.sendMessage(ctx, chatID, text, 0)
	if err != nil {
		return "", err
	}
	return composeMessageID(chatID, messageID), nil
}

func (c *Connector) SendText(ctx context.Context, threadID, text string) error {
	chatID, err := parseChatID(threadID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err = c.sendMessage(ctx, chatID, text, 0)
	return err
}

func (c *Connector) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	chatID, id, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": id,
	}, nil)
}

// UploadAttachment sends the file to the staging chat, or to threadID when no
// staging chat is configured, and returns its durable file id.
func (c *Connector) UploadAttachment(ctx context.Context, localPath, threadID string, kind media.Kind) (string, error) {
	target := c.stagingChatID
	if target == "" {
		target = strings.TrimSpace(threadID)
	}
	targetID, err := parseChatID(target)
	if err != nil {
		return "", err
	}
	send := methodFor(kind)
	var sent telegramMessage
	if err := c.upload(ctx, send.method, map[string]string{"chat_id": strconv.FormatInt(targetID, 10)}, send.field, localPath, &sent); err != nil {
		return "", err
	}
	file := sent.attachment()
	if file == nil || strings.TrimSpace(file.FileID) == "" {
		return "", fmt.Errorf("telegram %s returned no file id", send.method)
	}
	if c.stagingChatID == "" {
		c.delivered.Add(deliveryKey(strconv.FormatInt(targetID, 10), file.FileID), uploadDelivery{
			messageID:  composeMessageID(targetID, sent.MessageID),
			uploadedAt: c.now(),
		})
	}
	c.logger.Info("telegram upload stored",
		"method", send.method,
		"chat_id", targetID,
		"file_unique_id", file.FileUniqueID,
	)
	return file.FileID, nil
}

// SendMedia delivers a file id or URL. When the upload itself landed in
// threadID within the last minute, that message is the delivery and nothing
// is sent again.
func (c *Connector) SendMedia(ctx context.Context, threadID, deliverableURL string, kind media.Kind, caption string) (string, error) {
	chatID, err := parseChatID(threadID)
	if err != nil {
		return "", err
	}
	if messageID, ok := c.takeUploadDelivery(strconv.FormatInt(chatID, 10), deliverableURL); ok {
		if kind != media.KindSticker && strings.TrimSpace(caption) != "" {
			c.addCaption(ctx, messageID, caption)
		}
		return messageID, nil
	}
	send := methodFor(kind)
	body := map[string]any{
		"chat_id":  chatID,
		send.field: deliverableURL,
	}
	if kind != media.KindSticker && strings.TrimSpace(caption) != "" {
		body["caption"] = caption
	}
	var sent telegramMessage
	if err := c.call(ctx, send.method, body, &sent); err != nil {
		return "", err
	}
	return composeMessageID(chatID, sent.MessageID), nil
}

// FileURL resolves a file id from an inbound message to a download URL. The
// URL embeds the bot token and stays valid for about an hour.
func (c *Connector) FileURL(ctx context.Context, fileID string) (string, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", fmt.Errorf("telegram file id is required")
	}
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return "", err
	}
	if strings.TrimSpace(file.FilePath) == "" {
		return "", fmt.Errorf("telegram getFile returned no path")
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, strings.TrimLeft(file.FilePath, "/")), nil
}

func deliveryKey(chatID, fileID string) string {
	return chatID + "|" + fileID
}

// takeUploadDelivery consumes the memo for fileID in chatID. An entry older
// than deliveredMemoTTL belongs to an upload whose SendMedia never came, so
// the caller must send the file itself.
func (c *Connector) takeUploadDelivery(chatID, fileID string) (string, bool) {
	key := deliveryKey(chatID, fileID)
	memo, ok := c.delivered.Peek(key)
	if !ok {
		return "", false
	}
	c.delivered.Remove(key)
	if c.now().Sub(memo.uploadedAt) > deliveredMemoTTL {
		return "", false
	}
	return memo.messageID, true
}

func (c *Connector) addCaption(ctx context.Context, messageID, caption string) {
	chatID, id, err := parseMessageID(messageID)
	if err == nil {
		err = c.call(ctx, "editMessageCaption", map[string]any{
			"chat_id":    chatID,
			"message_id": id,
			"caption":    caption,
		}, nil)
	}
	if err != nil {
		c.logger.Debug("telegram caption not added", "message_id", messageID, "error", err)
	}
}
