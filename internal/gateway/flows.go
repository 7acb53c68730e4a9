package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/acquisition"
	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/replies"
	"github.com/dwizi/media-relay/internal/selection"
	"github.com/dwizi/media-relay/internal/sources/kkphim"
)

// variantAliases maps the words people type after an index to quality tiers.
var variantAliases = map[string]string{
	"hd":     "720p",
	"sd":     "540p",
	"normal": "",
	"mp3":    media.VariantAudio,
	"music":  media.VariantAudio,
}

func (s *Service) handleVideo(ctx context.Context, input MessageInput, query string) (MessageOutput, error) {
	if query == "" {
		return MessageOutput{Handled: true, Reply: "Usage: /video <keywords or TikTok link>"}, nil
	}
	if s.deps.Videos == nil {
		return MessageOutput{Handled: true, Reply: "Video search is not configured."}, nil
	}
	ep, err := s.endpoint(input.Connector)
	if err != nil {
		return MessageOutput{}, err
	}
	user := userKey(input.Connector, input.FromUserID)

	if lookup, ok := s.deps.Videos.(VideoLinkLookup); ok && looksLikeLink(query) {
		fields := strings.Fields(query)
		candidate, err := lookup.LookupURL(ctx, fields[0])
		if err != nil {
			return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(err)}, nil
		}
		requested := ""
		if len(fields) > 1 {
			requested = fields[1]
		}
		if err := s.deliverVideo(ctx, ep, input.ExternalID, user, candidate, requested); err != nil {
			s.logger.Warn("direct video delivery failed", "connector", input.Connector, "content_id", candidate.ContentID, "error", err)
		}
		return MessageOutput{Handled: true}, nil
	}

	candidates, err := s.deps.Videos.Search(ctx, query, s.cfg.ListLimit)
	if err != nil {
		s.logger.Warn("video search failed", "query", query, "error", err)
		return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(err)}, nil
	}
	if len(candidates) == 0 {
		return MessageOutput{Handled: true, Reply: fmt.Sprintf("No videos found for %q.", query)}, nil
	}
	if _, err := s.videos.Publish(ctx, user, candidates, func(ctx context.Context) (string, error) {
		return ep.transport.SendList(ctx, input.ExternalID, formatVideoList(query, candidates))
	}, selection.WithThread(input.ExternalID)); err != nil {
		return MessageOutput{}, fmt.Errorf("publish video list: %w", err)
	}
	return MessageOutput{Handled: true}, nil
}

func (s *Service) onVideoSelected(ctx context.Context, picked replies.Selection) error {
	ep, err := s.endpoint(picked.Event.Connector)
	if err != nil {
		return err
	}
	s.dropList(ctx, ep.transport, picked)
	return s.deliverVideo(ctx, ep, picked.Event.ThreadID, picked.Session.UserID, picked.Candidate, picked.Variant)
}

func (s *Service) deliverVideo(ctx context.Context, ep endpoint, threadID, user string, candidate media.Candidate, requested string) error {
	variant := videoVariant(candidate, requested)
	kind := media.KindVideo
	if variant == media.VariantAudio {
		kind = media.KindAudio
	}
	messageID, err := s.deliver(ctx, ep, threadID, candidate, variant, kind)
	if err != nil {
		return err
	}
	if candidate.Author == "" && candidate.AuthorURL == "" {
		return nil
	}
	s.reactions.Create(messageID, user, []media.Candidate{candidate},
		selection.WithStage(stageAuthor),
		selection.WithThread(threadID),
		selection.WithTTL(s.cfg.ReactionTTL),
	)
	return nil
}

// videoVariant picks the variant to resolve. Anything the candidate does not
// offer falls back to its default so the cache key stays stable.
func videoVariant(candidate media.Candidate, requested string) string {
	requested = media.NormalizeVariant(requested)
	if alias, ok := variantAliases[requested]; ok {
		requested = alias
	}
	if requested != "" && candidate.HasVariant(requested) {
		return requested
	}
	return media.NormalizeVariant(candidate.DefaultVariant)
}

func (s *Service) handleMovie(ctx context.Context, input MessageInput, query string) (MessageOutput, error) {
	if query == "" {
		return MessageOutput{Handled: true, Reply: "Usage: /movie <title>"}, nil
	}
	if s.deps.Movies == nil {
		return MessageOutput{Handled: true, Reply: "Movie search is not configured."}, nil
	}
	ep, err := s.endpoint(input.Connector)
	if err != nil {
		return MessageOutput{}, err
	}
	user := userKey(input.Connector, input.FromUserID)

	titles, err := s.deps.Movies.Search(ctx, query, s.cfg.ListLimit)
	if err != nil {
		s.logger.Warn("movie search failed", "query", query, "error", err)
		return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(err)}, nil
	}
	switch len(titles) {
	case 0:
		return MessageOutput{Handled: true, Reply: fmt.Sprintf("No titles found for %q.", query)}, nil
	case 1:
		if err := s.publishEpisodes(ctx, ep, input.ExternalID, user, "", titles[0]); err != nil {
			return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(err)}, nil
		}
		return MessageOutput{Handled: true}, nil
	}
	if _, err := s.movies.Publish(ctx, user, titles, func(ctx context.Context) (string, error) {
		return ep.transport.SendList(ctx, input.ExternalID, formatMovieList(query, titles))
	}, selection.WithStage(stageTitle), selection.WithThread(input.ExternalID)); err != nil {
		return MessageOutput{}, fmt.Errorf("publish title list: %w", err)
	}
	return MessageOutput{Handled: true}, nil
}

func (s *Service) onMovieSelected(ctx context.Context, picked replies.Selection) error {
	ep, err := s.endpoint(picked.Event.Connector)
	if err != nil {
		return err
	}
	s.dropList(ctx, ep.transport, picked)
	threadID := picked.Event.ThreadID
	if picked.Session.Stage == stageEpisode {
		_, err := s.deliver(ctx, ep, threadID, picked.Candidate, "", media.KindVideo)
		return err
	}
	if err := s.publishEpisodes(ctx, ep, threadID, picked.Session.UserID, picked.Session.Key, picked.Candidate); err != nil {
		return s.report(ctx, ep.transport, threadID, err)
	}
	return nil
}

// publishEpisodes lists the episodes of title as the second stage of the
// movie flow. oldKey is the consumed title list, when there was one.
func (s *Service) publishEpisodes(ctx context.Context, ep endpoint, threadID, user, oldKey string, title media.Candidate) error {
	episodes, err := s.deps.Movies.Episodes(ctx, title.ContentID)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return mediaerr.Validation(fmt.Sprintf("%s has no episodes yet.", title.Title))
	}
	candidates := make([]media.Candidate, 0, len(episodes))
	labels := make([]string, 0, len(episodes))
	for _, episode := range episodes {
		candidates = append(candidates, kkphim.EpisodeCandidate(title, episode))
		labels = append(labels, episode.Label)
	}
	_, err = s.movies.PublishReplacement(ctx, oldKey, user, candidates, func(ctx context.Context) (string, error) {
		return ep.transport.SendList(ctx, threadID, formatEpisodeList(title, labels))
	}, selection.WithStage(stageEpisode), selection.WithThread(threadID))
	if err != nil {
		return fmt.Errorf("publish episode list: %w", err)
	}
	return nil
}

// matchMovieReply reads an index on the title list and an episode label on
// the episode list.
func matchMovieReply(session selection.Session, body string) (int, string, bool) {
	if session.Stage != stageEpisode {
		index, variant, err := replies.ParseSelection(body)
		return index, variant, err == nil
	}
	want := strings.Join(strings.Fields(body), "")
	if want == "" {
		return 0, "", false
	}
	for i, candidate := range session.Candidates {
		_, label, ok := kkphim.SplitEpisodeID(candidate.ContentID)
		if ok && strings.EqualFold(label, want) {
			return i + 1, "", true
		}
	}
	return 0, "", false
}

func invalidMovieReply(session selection.Session) string {
	if session.Stage != stageEpisode {
		return fmt.Sprintf("Invalid choice. Reply with a number between 1 and %d.", len(session.Candidates))
	}
	return "That episode is not in the list. Ask for the movie again to pick another one."
}

func (s *Service) handleMeme(ctx context.Context, input MessageInput, arg string) (MessageOutput, error) {
	query, count := parseMemeQuery(arg)
	if query == "" {
		return MessageOutput{Handled: true, Reply: "Usage: /meme <keywords>[&&count]"}, nil
	}
	if s.deps.Memes == nil {
		return MessageOutput{Handled: true, Reply: "Meme search is not configured."}, nil
	}
	ep, err := s.endpoint(input.Connector)
	if err != nil {
		return MessageOutput{}, err
	}
	candidates, err := s.deps.Memes.Search(ctx, query, count)
	if err != nil {
		s.logger.Warn("meme search failed", "query", query, "error", err)
		return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(err)}, nil
	}
	if len(candidates) == 0 {
		return MessageOutput{Handled: true, Reply: fmt.Sprintf("No memes found for %q.", query)}, nil
	}
	user := userKey(input.Connector, input.FromUserID)
	if _, err := s.memes.Publish(ctx, user, candidates, func(ctx context.Context) (string, error) {
		return ep.transport.SendList(ctx, input.ExternalID, formatMemeList(query, candidates))
	}, selection.WithThread(input.ExternalID)); err != nil {
		return MessageOutput{}, fmt.Errorf("publish meme list: %w", err)
	}
	return MessageOutput{Handled: true}, nil
}

func (s *Service) onMemeSelected(ctx context.Context, picked replies.Selection) error {
	ep, err := s.endpoint(picked.Event.Connector)
	if err != nil {
		return err
	}
	s.dropList(ctx, ep.transport, picked)
	_, err = s.deliver(ctx, ep, picked.Event.ThreadID, picked.Candidate, media.VariantSticker, media.KindSticker)
	return err
}

func (s *Service) handleSticker(ctx context.Context, input MessageInput, arg string) (MessageOutput, error) {
	quote := input.Quote
	if quote == nil || (quote.URL == "" && quote.FileID == "") {
		return MessageOutput{Handled: true, Reply: "Reply to a photo, video or GIF with /sticker."}, nil
	}
	ep, err := s.endpoint(input.Connector)
	if err != nil {
		return MessageOutput{}, err
	}
	locator := strings.TrimSpace(quote.URL)
	if locator == "" {
		files, ok := ep.transport.(FileLocator)
		if !ok {
			return MessageOutput{Handled: true, Reply: "This chat cannot read the replied file."}, nil
		}
		locator, err = files.FileURL(ctx, quote.FileID)
		if err != nil {
			s.logger.Warn("sticker source lookup failed", "connector", input.Connector, "file_id", quote.FileID, "error", err)
			return MessageOutput{Handled: true, Reply: mediaerr.UserMessage(fmt.Errorf("%w: %w", mediaerr.ErrSourceUnavailable, err))}, nil
		}
	}
	contentID := strings.TrimSpace(quote.FileUniqueID)
	if contentID == "" {
		contentID = strings.TrimSpace(quote.FileID)
	}
	if contentID == "" {
		contentID = locator
	}
	candidate := media.Candidate{
		Platform:  media.Platform(strings.ToLower(input.Connector)),
		ContentID: contentID,
		Title:     "sticker",
		SourceURL: locator,
		SizeBytes: quote.SizeBytes,
		Duration:  time.Duration(quote.Duration) * time.Second,
	}
	if _, err := s.deliver(ctx, ep, input.ExternalID, candidate, stickerVariant(arg), media.KindSticker); err != nil {
		s.logger.Warn("sticker conversion failed", "connector", input.Connector, "content_id", contentID, "error", err)
	}
	return MessageOutput{Handled: true}, nil
}

func (s *Service) onReaction(ctx context.Context, session selection.Session, reaction replies.Reaction) error {
	if len(session.Candidates) == 0 {
		return nil
	}
	ep, err := s.endpoint(reaction.Connector)
	if err != nil {
		return err
	}
	threadID := session.ThreadID
	if threadID == "" {
		threadID = reaction.ThreadID
	}
	return ep.transport.SendText(ctx, threadID, authorInfo(session.Candidates[0]))
}

// deliver resolves candidate through the cache and sends it. Failures are
// reported to the thread before they are returned.
func (s *Service) deliver(ctx context.Context, ep endpoint, threadID string, candidate media.Candidate, variant string, kind media.Kind) (string, error) {
	resolved, err := ep.resolver.Resolve(ctx, acquisition.Request{
		Candidate: candidate,
		Variant:   variant,
		ThreadID:  threadID,
	})
	if err != nil {
		return "", s.report(ctx, ep.transport, threadID, err)
	}
	if resolved.Kind != "" {
		kind = resolved.Kind
	}
	messageID, err := ep.transport.SendMedia(ctx, threadID, resolved.DeliverableURL, kind, caption(candidate))
	if err != nil {
		return "", s.report(ctx, ep.transport, threadID, fmt.Errorf("%w: send media: %w", mediaerr.ErrUploadFailed, err))
	}
	s.logger.Info("media delivered",
		"connector", ep.transport.Name(),
		"thread_id", threadID,
		"platform", string(candidate.Platform),
		"content_id", candidate.ContentID,
		"variant", variant,
	)
	return messageID, nil
}

// dropList removes the list message once a pick was made from it.
func (s *Service) dropList(ctx context.Context, transport connectors.Transport, picked replies.Selection) {
	if err := transport.DeleteMessage(ctx, picked.Event.ThreadID, picked.Session.Key); err != nil {
		s.logger.Debug("list message not deleted", "session_key", picked.Session.Key, "error", err)
	}
}

func looksLikeLink(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
