package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/metrics"
	"github.com/dwizi/media-relay/internal/resolution"
	"github.com/dwizi/media-relay/internal/transform"
)

const (
	defaultMaxBytes        = 20 * 1024 * 1024
	defaultFetchTimeout    = 90 * time.Second
	defaultTransformBudget = 5 * time.Minute
	defaultUploadTimeout   = 2 * time.Minute
)

type Uploader interface {
	UploadAttachment(ctx context.Context, localPath, threadID string, kind media.Kind) (string, error)
}

// Refresher asks a source for a fresh locator when a stored one stopped working.
type Refresher interface {
	RefreshLocator(ctx context.Context, contentID, variant string) (string, error)
}

type Config struct {
	WorkDir          string
	MaxBytes         int64
	FetchTimeout     time.Duration
	TransformTimeout time.Duration
	UploadTimeout    time.Duration
	UserAgent        string
	HTTPClient       *http.Client
}

// Request asks for one candidate in one variant, to be uploaded on behalf of
// ThreadID.
type Request struct {
	Candidate media.Candidate
	Variant   string
	ThreadID  string
}

type Option func(*Pipeline)

func WithRefresher(platform media.Platform, refresher Refresher) Option {
	return func(p *Pipeline) {
		if refresher != nil {
			p.refreshers[platform] = refresher
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

type Pipeline struct {
	cfg        Config
	cache      *resolution.Cache
	invoker    transform.Invoker
	uploader   Uploader
	refreshers map[media.Platform]Refresher
	client     *http.Client
	headClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

func New(cfg Config, cache *resolution.Cache, invoker transform.Invoker, uploader Uploader, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cache == nil {
		return nil, errors.New("acquisition pipeline requires a resolution cache")
	}
	if invoker == nil {
		return nil, errors.New("acquisition pipeline requires a transform invoker")
	}
	if uploader == nil {
		return nil, errors.New("acquisition pipeline requires an uploader")
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "media-relay")
	}
	if cfg.MaxBytes < 1 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = defaultTransformBudget
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	headClient := *client
	headClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	pipeline := &Pipeline{
		cfg:        cfg,
		cache:      cache,
		invoker:    invoker,
		uploader:   uploader,
		refreshers: map[media.Platform]Refresher{},
		client:     client,
		headClient: &headClient,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pipeline)
		}
	}
	return pipeline, nil
}

func (p *Pipeline) WorkDir() string {
	return p.cfg.WorkDir
}

// Resolve returns a deliverable for the request, reusing the cached one when
// the same platform, content id and variant were resolved before.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (media.ResolvedMedia, error) {
	key := resolution.KeyFor(req.Candidate, req.Variant)
	if !key.Valid() {
		return media.ResolvedMedia{}, mediaerr.Validation("That item cannot be identified.")
	}
	resolved, err := p.cache.GetOrResolve(ctx, key, func(ctx context.Context) (media.ResolvedMedia, error) {
		return p.run(ctx, req)
	})
	metrics.PipelineResultTotal.WithLabelValues(string(key.Platform), mediaerr.Kind(err)).Inc()
	if err != nil {
		p.logger.Warn("media resolution failed",
			"key", key.String(),
			"kind", mediaerr.Kind(err),
			"error", err,
		)
		return media.ResolvedMedia{}, err
	}
	return resolved, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (media.ResolvedMedia, error) {
	plan := planFor(req)
	if err := validate(req.Candidate, plan, p.cfg.MaxBytes); err != nil {
		return media.ResolvedMedia{}, err
	}

	jobDir, err := p.newJobDir()
	if err != nil {
		return media.ResolvedMedia{}, err
	}
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			p.logger.Warn("job cleanup failed", "dir", jobDir, "error", err)
		}
	}()

	sourcePath, err := p.acquire(ctx, req, plan, jobDir)
	if err != nil {
		return media.ResolvedMedia{}, err
	}

	deliverablePath := sourcePath
	if profile, ok := plan.profileFor(sourcePath); ok {
		if plan.kind == media.KindSticker && !transform.ValidStickerInput(sourcePath) && !isHLS(sourcePath) {
			return media.ResolvedMedia{}, mediaerr.Validation("That file type cannot be turned into a sticker.")
		}
		output := filepath.Join(jobDir, "output"+profile.OutputExt(sourcePath))
		started := time.Now()
		transformCtx, cancel := context.WithTimeout(ctx, p.cfg.TransformTimeout)
		err := p.invoker.Transform(transformCtx, sourcePath, output, profile)
		cancel()
		metrics.ObserveStep("transform", started)
		if err != nil {
			if !errors.Is(err, mediaerr.ErrTransformFailed) {
				err = fmt.Errorf("%w: %w", mediaerr.ErrTransformFailed, err)
			}
			return media.ResolvedMedia{}, err
		}
		deliverablePath = output
	}

	deliverable, err := p.upload(ctx, deliverablePath, req.ThreadID, plan.kind)
	if err != nil {
		return media.ResolvedMedia{}, err
	}
	return media.ResolvedMedia{
		Platform:       req.Candidate.Platform,
		ContentID:      req.Candidate.ContentID,
		Variant:        media.NormalizeVariant(req.Variant),
		DeliverableURL: deliverable,
		Title:          req.Candidate.Title,
		Author:         req.Candidate.Author,
		Kind:           plan.kind,
		ResolvedAt:     p.now().UTC(),
	}, nil
}

func (p *Pipeline) newJobDir() (string, error) {
	if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	jobDir := filepath.Join(p.cfg.WorkDir, jobDirPrefix+uuid.NewString())
	if err := os.Mkdir(jobDir, 0o700); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return jobDir, nil
}

// acquire turns the candidate's locator into a local path, or returns the
// playlist URL untouched for HLS sources. A failed primary fetch asks the
// source for a fresh locator once.
func (p *Pipeline) acquire(ctx context.Context, req Request, plan plan, jobDir string) (string, error) {
	locator := req.Candidate.VariantURL(req.Variant)
	if locator == "" {
		refreshed, err := p.refresh(ctx, req.Candidate, req.Variant)
		if err != nil {
			return "", err
		}
		locator = refreshed
	}
	if isHLS(locator) {
		return locator, nil
	}

	path, err := p.fetch(ctx, locator, jobDir, plan.kind)
	if err == nil {
		return path, nil
	}
	if errors.Is(err, mediaerr.ErrValidation) {
		return "", err
	}
	refresher := p.refreshers[req.Candidate.Platform]
	if refresher == nil {
		return "", err
	}
	p.logger.Info("primary fetch failed, refreshing locator",
		"platform", req.Candidate.Platform,
		"content_id", req.Candidate.ContentID,
		"error", err,
	)
	refreshed, refreshErr := p.refresh(ctx, req.Candidate, req.Variant)
	if refreshErr != nil {
		return "", fmt.Errorf("%w; primary fetch: %v", refreshErr, err)
	}
	if isHLS(refreshed) {
		return refreshed, nil
	}
	return p.fetch(ctx, refreshed, jobDir, plan.kind)
}

func (p *Pipeline) refresh(ctx context.Context, candidate media.Candidate, variant string) (string, error) {
	refresher := p.refreshers[candidate.Platform]
	if refresher == nil {
		return "", fmt.Errorf("%w: no locator for %s:%s", mediaerr.ErrSourceUnavailable, candidate.Platform, candidate.ContentID)
	}
	started := time.Now()
	refreshCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	locator, err := refresher.RefreshLocator(refreshCtx, candidate.ContentID, media.NormalizeVariant(variant))
	metrics.ObserveStep("refresh", started)
	if err != nil {
		return "", fmt.Errorf("%w: refresh %s:%s: %w", mediaerr.ErrSourceUnavailable, candidate.Platform, candidate.ContentID, err)
	}
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("%w: refresh %s:%s returned no locator", mediaerr.ErrSourceUnavailable, candidate.Platform, candidate.ContentID)
	}
	return strings.TrimSpace(locator), nil
}

func (p *Pipeline) upload(ctx context.Context, path, threadID string, kind media.Kind) (string, error) {
	started := time.Now()
	uploadCtx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()
	deliverable, err := p.uploader.UploadAttachment(uploadCtx, path, threadID, kind)
	metrics.ObserveStep("upload", started)
	if err != nil {
		return "", fmt.Errorf("%w: %w", mediaerr.ErrUploadFailed, err)
	}
	if strings.TrimSpace(deliverable) == "" {
		return "", fmt.Errorf("%w: upload returned no deliverable", mediaerr.ErrUploadFailed)
	}
	return deliverable, nil
}
