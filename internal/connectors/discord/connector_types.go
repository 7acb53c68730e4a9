package discord

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dwizi/media-relay/internal/replies"
)

const maxMessageRunes = 2000

// clipDiscordMessage trims content to Discord's message limit, counted in
// characters rather than bytes.
func clipDiscordMessage(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= maxMessageRunes {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:maxMessageRunes-3])) + "..."
}

func discordDisplayName(author discordAuthor) string {
	for _, name := range []string{author.GlobalName, author.Username, author.ID} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return "unknown"
}

type gatewayEnvelope struct {
	Op int             `json:"op"`
	T  string          `json:"t"`
	S  *int64          `json:"s"`
	D  json.RawMessage `json:"d"`
}

type discordHello struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval"`
}

type discordReady struct {
	User discordAuthor `json:"user"`
}

type discordMessageCreate struct {
	ID                string                   `json:"id"`
	ChannelID         string                   `json:"channel_id"`
	GuildID           string                   `json:"guild_id"`
	Content           string                   `json:"content"`
	Author            discordAuthor            `json:"author"`
	Attachments       []discordAttachment      `json:"attachments"`
	MessageReference  *discordMessageReference `json:"message_reference"`
	ReferencedMessage *discordMessageCreate    `json:"referenced_message"`
}

type discordMessageReference struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// quotedAttachment returns the first media attachment of the replied-to
// message.
func (message discordMessageCreate) quotedAttachment() *replies.Attachment {
	if message.ReferencedMessage == nil {
		return nil
	}
	for _, attachment := range message.ReferencedMessage.Attachments {
		if strings.TrimSpace(attachment.URL) == "" {
			continue
		}
		return &replies.Attachment{
			FileID:       attachment.ID,
			FileUniqueID: attachment.ID,
			URL:          attachment.URL,
			FileName:     attachment.Filename,
			MimeType:     attachment.ContentType,
			Width:        attachment.Width,
			Height:       attachment.Height,
			Duration:     int(attachment.DurationSecs),
			SizeBytes:    attachment.Size,
		}
	}
	return nil
}

type discordReactionAdd struct {
	UserID    string           `json:"user_id"`
	ChannelID string           `json:"channel_id"`
	MessageID string           `json:"message_id"`
	GuildID   string           `json:"guild_id"`
	Member    *discordMember   `json:"member"`
	Emoji     discordEmojiInfo `json:"emoji"`
}

type discordEmojiInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type discordInteractionCreate struct {
	ID            string                 `json:"id"`
	ApplicationID string                 `json:"application_id"`
	Type          int                    `json:"type"`
	Token         string                 `json:"token"`
	ChannelID     string                 `json:"channel_id"`
	GuildID       string                 `json:"guild_id"`
	Data          discordInteractionData `json:"data"`
	Member        discordMember          `json:"member"`
	User          discordAuthor          `json:"user"`
}

func (interaction discordInteractionCreate) userID() string {
	if strings.TrimSpace(interaction.Member.User.ID) != "" {
		return strings.TrimSpace(interaction.Member.User.ID)
	}
	return strings.TrimSpace(interaction.User.ID)
}

type discordInteractionData struct {
	Name    string                     `json:"name"`
	Options []discordInteractionOption `json:"options"`
}

type discordInteractionOption struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	Value any    `json:"value"`
}

// valueAsString renders a slash-command option value. Discord sends
// integer and number options as JSON numbers.
func (option discordInteractionOption) valueAsString() string {
	switch value := option.Value.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

type discordMember struct {
	User discordAuthor `json:"user"`
}

type discordAuthor struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type discordAttachment struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	ContentType  string  `json:"content_type"`
	Size         int64   `json:"size"`
	URL          string  `json:"url"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	DurationSecs float64 `json:"duration_secs"`
}

type discordSentMessage struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channel_id"`
	Attachments []discordAttachment `json:"attachments"`
}

// readLimited reads body but fails once it exceeds maxBytes.
func readLimited(body io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
