package discord

import (
	"context"
	"strings"

	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/replies"
)

func (c *Connector) handleMessageCreate(ctx context.Context, message discordMessageCreate) error {
	if botID := c.botID(); message.Author.Bot || (botID != "" && message.Author.ID == botID) {
		return nil
	}
	text := strings.TrimSpace(message.Content)
	if text == "" {
		return nil
	}
	displayName := message.ChannelID
	if message.GuildID != "" {
		displayName = message.GuildID
	}
	input := gateway.MessageInput{
		Connector:   connectorName,
		ExternalID:  message.ChannelID,
		DisplayName: displayName,
		FromUserID:  message.Author.ID,
		MessageID:   message.ID,
		Text:        text,
	}
	if message.MessageReference != nil && strings.TrimSpace(message.MessageReference.MessageID) != "" {
		input.QuotedMessageID = strings.TrimSpace(message.MessageReference.MessageID)
		input.Quote = message.quotedAttachment()
	}
	c.logger.Debug("discord message received",
		"channel_id", message.ChannelID,
		"from", discordDisplayName(message.Author),
		"is_reply", input.QuotedMessageID != "",
	)

	output, err := c.gateway.HandleMessage(ctx, input)
	if err != nil {
		return err
	}
	if !output.Handled || strings.TrimSpace(output.Reply) == "" {
		return nil
	}
	_, err = c.sendChannelMessage(ctx, message.ChannelID, output.Reply, message.ID)
	return err
}

// handleReactionAdd forwards unicode emoji reactions. Custom guild emoji
// carry an id and never match the follow-up emoji set.
func (c *Connector) handleReactionAdd(ctx context.Context, reaction discordReactionAdd) {
	if reaction.Member != nil && reaction.Member.User.Bot {
		return
	}
	if botID := c.botID(); botID != "" && reaction.UserID == botID {
		return
	}
	if strings.TrimSpace(reaction.Emoji.ID) != "" || strings.TrimSpace(reaction.Emoji.Name) == "" {
		return
	}
	c.gateway.HandleReaction(ctx, replies.Reaction{
		Connector: connectorName,
		ThreadID:  reaction.ChannelID,
		MessageID: reaction.MessageID,
		UserID:    reaction.UserID,
		Emoji:     reaction.Emoji.Name,
	})
}
