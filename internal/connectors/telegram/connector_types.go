package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func userDisplayName(user telegramUser) string {
	parts := []string{strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName)}
	fullName := strings.TrimSpace(strings.Join(parts, " "))
	if fullName != "" {
		return fullName
	}
	if strings.TrimSpace(user.Username) != "" {
		return user.Username
	}
	return strconv.FormatInt(user.ID, 10)
}

// Message ids are only unique per chat, so they travel as "chatID:messageID".
func composeMessageID(chatID, messageID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

func parseMessageID(raw string) (int64, int64, error) {
	chatPart, messagePart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, 0, fmt.Errorf("telegram message id %q is not chat:message", raw)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse telegram chat id: %w", err)
	}
	messageID, err := strconv.ParseInt(messagePart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse telegram message id: %w", err)
	}
	return chatID, messageID, nil
}

func parseChatID(threadID string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(threadID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse telegram chat id: %w", err)
	}
	return chatID, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramUpdate struct {
	UpdateID        int64                    `json:"update_id"`
	Message         *telegramMessage         `json:"message"`
	MessageReaction *telegramMessageReaction `json:"message_reaction"`
}

type telegramMessage struct {
	MessageID      int64            `json:"message_id"`
	From           telegramUser     `json:"from"`
	Chat           telegramChat     `json:"chat"`
	Text           string           `json:"text"`
	Caption        string           `json:"caption"`
	ReplyToMessage *telegramMessage `json:"reply_to_message"`
	Document       *telegramFile    `json:"document"`
	Photo          []telegramFile   `json:"photo"`
	Video          *telegramFile    `json:"video"`
	Animation      *telegramFile    `json:"animation"`
	VideoNote      *telegramFile    `json:"video_note"`
	Audio          *telegramFile    `json:"audio"`
	Sticker        *telegramFile    `json:"sticker"`
}

type telegramChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// telegramFile covers the fields shared by photos, videos, documents and
// stickers.
type telegramFile struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Duration     int    `json:"duration"`
}

type telegramMessageReaction struct {
	Chat        telegramChat    `json:"chat"`
	MessageID   int64           `json:"message_id"`
	User        *telegramUser   `json:"user"`
	NewReaction []reactionEntry `json:"new_reaction"`
}

type reactionEntry struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// attachment returns the media a message carries, preferring the largest
// photo size.
func (m telegramMessage) attachment() *telegramFile {
	switch {
	case m.Video != nil:
		return m.Video
	case m.Animation != nil:
		return m.Animation
	case m.VideoNote != nil:
		return m.VideoNote
	case len(m.Photo) > 0:
		largest := m.Photo[0]
		for _, size := range m.Photo[1:] {
			if size.Width*size.Height > largest.Width*largest.Height {
				largest = size
			}
		}
		return &largest
	case m.Sticker != nil:
		return m.Sticker
	case m.Document != nil:
		return m.Document
	case m.Audio != nil:
		return m.Audio
	}
	return nil
}

func ioReadAllLimited(body io.Reader, maxBytes int64) ([]byte, error) {
	limited := &io.LimitedReader{R: body, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("response too large")
	}
	return data, nil
}
