package gateway

import (
	"strconv"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
)

const (
	defaultMemeCount = 10
	maxMemeCount     = 10
)

type SlashCommand struct {
	Name                string
	Description         string
	ArgumentName        string
	ArgumentDescription string
	ArgumentRequired    bool
}

func SlashCommands() []SlashCommand {
	return []SlashCommand{
		{
			Name:                "video",
			Description:         "Search short videos",
			ArgumentName:        "query",
			ArgumentDescription: "Keywords or a TikTok link",
			ArgumentRequired:    true,
		},
		{
			Name:                "movie",
			Description:         "Search movies and series",
			ArgumentName:        "title",
			ArgumentDescription: "Title to look for",
			ArgumentRequired:    true,
		},
		{
			Name:                "meme",
			Description:         "Search meme stickers",
			ArgumentName:        "query",
			ArgumentDescription: "Keywords, optionally query&&count",
			ArgumentRequired:    true,
		},
		{
			Name:                "sticker",
			Description:         "Turn the replied photo or video into a sticker",
			ArgumentName:        "shape",
			ArgumentDescription: "Use \"square\" to crop to a centred square",
		},
		{
			Name:        "leave",
			Description: "Cancel your pending selections",
		},
		{
			Name:        "help",
			Description: "Show available commands",
		},
	}
}

func NormalizeCommandName(command string) string {
	normalized := strings.ToLower(strings.TrimSpace(command))
	if normalized == "" {
		return ""
	}
	return strings.ReplaceAll(normalized, "_", "-")
}

// splitCommand only recognises text that starts with a slash. A bot mention
// suffix such as /video@relay_bot is dropped.
func splitCommand(text string) (string, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "/")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", "", false
	}
	command := fields[0]
	if idx := strings.Index(command, "@"); idx >= 0 {
		command = command[:idx]
	}
	command = NormalizeCommandName(command)
	if command == "" {
		return "", "", false
	}
	argStart := strings.IndexAny(trimmed, " \t\n")
	if argStart < 0 {
		return command, "", true
	}
	return command, strings.TrimSpace(trimmed[argStart+1:]), true
}

// stickerVariant maps the /sticker argument to a resolution variant. Anything
// other than "square" keeps the frame's aspect ratio.
func stickerVariant(arg string) string {
	if strings.EqualFold(strings.TrimSpace(arg), "square") {
		return media.VariantStickerSquare
	}
	return media.VariantSticker
}

// parseMemeQuery splits "query&&count". The count falls back to the default
// when missing or outside 1..10.
func parseMemeQuery(arg string) (string, int) {
	query, rawCount, found := strings.Cut(arg, "&&")
	query = strings.TrimSpace(query)
	if !found {
		return query, defaultMemeCount
	}
	count, err := strconv.Atoi(strings.TrimSpace(rawCount))
	if err != nil || count < 1 || count > maxMemeCount {
		return query, defaultMemeCount
	}
	return query, count
}
