package gateway

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dwizi/media-relay/internal/media"
)

const maxTitleRunes = 80

func formatVideoList(query string, candidates []media.Candidate) string {
	lines := []string{fmt.Sprintf("Videos for %q:", query)}
	for i, candidate := range candidates {
		line := fmt.Sprintf("%d. %s", i+1, truncate(candidate.Title))
		if candidate.Author != "" {
			line += " - " + candidate.Author
		}
		if candidate.Duration > 0 {
			line += " [" + formatDuration(candidate.Duration) + "]"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Reply with a number to pick one, e.g. 1, 1 hd or 1 audio.")
	return strings.Join(lines, "\n")
}

func formatMovieList(query string, candidates []media.Candidate) string {
	lines := []string{fmt.Sprintf("Titles for %q:", query)}
	for i, candidate := range candidates {
		line := fmt.Sprintf("%d. %s", i+1, truncate(candidate.Title))
		if candidate.Author != "" && candidate.Author != candidate.Title {
			line += " / " + candidate.Author
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Reply with a number to pick a title, e.g. 1.")
	return strings.Join(lines, "\n")
}

func formatEpisodeList(title media.Candidate, labels []string) string {
	example := "1"
	if len(labels) > 0 {
		example = labels[0]
	}
	return fmt.Sprintf("%s\nEpisodes: %s\n\nReply with the episode name to watch, e.g. %s.",
		title.Title, strings.Join(labels, ", "), example)
}

func formatMemeList(query string, candidates []media.Candidate) string {
	lines := []string{fmt.Sprintf("Memes for %q:", query)}
	for i, candidate := range candidates {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, truncate(candidate.Title)))
	}
	lines = append(lines, "", "Reply with a number to get it as a sticker.")
	return strings.Join(lines, "\n")
}

func formatHelp() string {
	lines := []string{"Commands:"}
	for _, command := range SlashCommands() {
		line := "/" + command.Name
		if command.ArgumentName != "" {
			line += " <" + command.ArgumentName + ">"
		}
		lines = append(lines, line+" - "+command.Description)
	}
	return strings.Join(lines, "\n")
}

func caption(candidate media.Candidate) string {
	title := truncate(candidate.Title)
	if candidate.Author == "" {
		return title
	}
	return title + "\nby " + candidate.Author
}

// authorInfo is the follow-up sent when someone reacts to a delivered video.
func authorInfo(candidate media.Candidate) string {
	lines := []string{"About this video:"}
	if candidate.Author != "" {
		lines = append(lines, "Author: "+candidate.Author)
	}
	if candidate.AuthorURL != "" {
		lines = append(lines, "Profile: "+candidate.AuthorURL)
	}
	if candidate.Title != "" {
		lines = append(lines, "Title: "+truncate(candidate.Title))
	}
	if candidate.Duration > 0 {
		lines = append(lines, "Length: "+formatDuration(candidate.Duration))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func truncate(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxTitleRunes-3]) + "..."
}
