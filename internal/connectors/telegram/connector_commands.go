package telegram

import (
	"context"
	"regexp"
	"strings"

	"github.com/dwizi/media-relay/internal/gateway"
)

const (
	maxCommandName        = 32
	maxCommandDescription = 256
)

var commandNameInvalid = regexp.MustCompile(`[^a-z0-9_]+`)

type botCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// syncCommands publishes the command menu. Telegram has no option schema, so
// the argument is folded into the description ("Search short videos <query>").
func (c *Connector) syncCommands(ctx context.Context) error {
	seen := map[string]bool{}
	var commands []botCommand
	for _, command := range gateway.SlashCommands() {
		name := commandName(command.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		commands = append(commands, botCommand{
			Command:     name,
			Description: commandDescription(command),
		})
	}
	return c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

// commandName lowercases name and keeps only what Telegram accepts in a
// command: a-z, 0-9 and underscores, at most 32 characters.
func commandName(name string) string {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	name = strings.Trim(commandNameInvalid.ReplaceAllString(name, ""), "_")
	if len(name) > maxCommandName {
		name = strings.TrimRight(name[:maxCommandName], "_")
	}
	return name
}

func commandDescription(command gateway.SlashCommand) string {
	description := strings.TrimSpace(command.Description)
	if description == "" {
		description = "Media relay command"
	}
	if argument := strings.TrimSpace(command.ArgumentName); argument != "" {
		description += " <" + argument + ">"
	}
	if len(description) > maxCommandDescription {
		description = strings.TrimSpace(description[:maxCommandDescription])
	}
	return description
}
