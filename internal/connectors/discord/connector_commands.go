package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dwizi/media-relay/internal/gateway"
)

const (
	interactionTypeApplicationCommand = 2

	commandTypeChatInput = 1
	optionTypeString     = 3

	responseDeferredChannelMessage = 5

	maxCommandDescription = 100
)

type applicationCommand struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        int             `json:"type"`
	Options     []commandOption `json:"options,omitempty"`
}

type commandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// applicationCommands maps the relay's commands to Discord's chat-input
// command schema. Each command takes at most one free-text option.
func applicationCommands(commands []gateway.SlashCommand) []applicationCommand {
	out := make([]applicationCommand, 0, len(commands))
	for _, command := range commands {
		name := strings.ToLower(strings.TrimSpace(command.Name))
		if name == "" {
			continue
		}
		entry := applicationCommand{
			Name:        name,
			Description: commandDescription(command.Description),
			Type:        commandTypeChatInput,
		}
		if argument := strings.TrimSpace(command.ArgumentName); argument != "" {
			entry.Options = []commandOption{{
				Type:        optionTypeString,
				Name:        argument,
				Description: commandDescription(command.ArgumentDescription),
				Required:    command.ArgumentRequired,
			}}
		}
		out = append(out, entry)
	}
	return out
}

func commandDescription(description string) string {
	description = strings.TrimSpace(description)
	switch {
	case description == "":
		return "Media relay command"
	case len(description) > maxCommandDescription:
		return strings.TrimSpace(description[:maxCommandDescription])
	}
	return description
}

// syncCommands overwrites the bot's commands globally, or per guild when
// guild ids are configured (guild commands show up immediately).
func (c *Connector) syncCommands(ctx context.Context) error {
	commands := applicationCommands(gateway.SlashCommands())
	if len(commands) == 0 {
		return nil
	}
	applicationID, err := c.resolveApplicationID(ctx)
	if err != nil {
		return err
	}
	if len(c.commandGuildIDs) == 0 {
		return c.call(ctx, http.MethodPut, "/applications/"+applicationID+"/commands", commands, nil)
	}
	var errs []error
	for _, guildID := range c.commandGuildIDs {
		path := fmt.Sprintf("/applications/%s/guilds/%s/commands", applicationID, guildID)
		if err := c.call(ctx, http.MethodPut, path, commands, nil); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", guildID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Connector) resolveApplicationID(ctx context.Context) (string, error) {
	if id := strings.TrimSpace(c.applicationID); id != "" {
		return id, nil
	}
	var application struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodGet, "/oauth2/applications/@me", nil, &application); err != nil {
		return "", fmt.Errorf("discord application lookup: %w", err)
	}
	if strings.TrimSpace(application.ID) == "" {
		return "", errors.New("discord application lookup returned empty id")
	}
	c.applicationID = strings.TrimSpace(application.ID)
	return c.applicationID, nil
}

// handleInteractionCreate acknowledges a slash command at once with a
// deferred response, runs it, then edits the deferred response with the
// command's reply. Lists and media are posted to the channel by the flows.
func (c *Connector) handleInteractionCreate(ctx context.Context, interaction discordInteractionCreate) error {
	if interaction.Type != interactionTypeApplicationCommand {
		return nil
	}
	if strings.TrimSpace(interaction.ID) == "" || strings.TrimSpace(interaction.Token) == "" {
		return errors.New("interaction without id or token")
	}
	callback := fmt.Sprintf("/interactions/%s/%s/callback", interaction.ID, interaction.Token)
	if err := c.call(ctx, http.MethodPost, callback, map[string]any{"type": responseDeferredChannelMessage}, nil); err != nil {
		return fmt.Errorf("defer interaction: %w", err)
	}

	reply := c.runInteraction(ctx, interaction)
	applicationID := strings.TrimSpace(interaction.ApplicationID)
	if applicationID == "" {
		applicationID = c.applicationID
	}
	original := fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, interaction.Token)
	return c.call(ctx, http.MethodPatch, original, map[string]any{"content": clipDiscordMessage(reply)}, nil)
}

func (c *Connector) runInteraction(ctx context.Context, interaction discordInteractionCreate) string {
	text := interactionToCommandText(interaction)
	if text == "" {
		return "Unsupported command payload."
	}
	userID := interaction.userID()
	if userID == "" {
		return "Missing user context."
	}
	displayName := strings.TrimSpace(interaction.GuildID)
	if displayName == "" {
		displayName = strings.TrimSpace(interaction.ChannelID)
	}
	output, err := c.gateway.HandleMessage(ctx, gateway.MessageInput{
		Connector:   connectorName,
		ExternalID:  strings.TrimSpace(interaction.ChannelID),
		DisplayName: displayName,
		FromUserID:  userID,
		MessageID:   interaction.ID,
		Text:        text,
	})
	if err != nil {
		c.logger.Error("discord command failed", "error", err, "command", interaction.Data.Name)
		return "I hit an error while running that command."
	}
	if reply := strings.TrimSpace(output.Reply); reply != "" {
		return reply
	}
	return "On it."
}

// interactionToCommandText renders a slash command back into the text form
// the gateway parses, e.g. "/meme cat&&3".
func interactionToCommandText(interaction discordInteractionCreate) string {
	name := strings.TrimSpace(interaction.Data.Name)
	if name == "" {
		return ""
	}
	parts := []string{"/" + name}
	for _, option := range interaction.Data.Options {
		if value := strings.TrimSpace(option.valueAsString()); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}
