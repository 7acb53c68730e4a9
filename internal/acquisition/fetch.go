package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/metrics"
)

var contentTypeExts = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
}

var knownExts = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".webp": true, ".gif": true,
	".png": true, ".jpg": true, ".jpeg": true, ".mp3": true, ".m4a": true,
	".aac": true, ".ogg": true, ".opus": true, ".wav": true,
}

// fetch downloads locator into jobDir/source<ext> after following at most
// one redirect hop.
func (p *Pipeline) fetch(ctx context.Context, locator, jobDir string, kind media.Kind) (string, error) {
	started := time.Now()
	defer metrics.ObserveStep("fetch", started)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	target, declared := p.followRedirect(fetchCtx, locator)
	if declared > p.cfg.MaxBytes {
		return "", mediaerr.Validation(sizeMessage(p.cfg.MaxBytes))
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", mediaerr.ErrFetchFailed, redactURL(err))
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", mediaerr.ErrFetchFailed, redactURL(err))
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", mediaerr.ErrFetchFailed, res.StatusCode)
	}
	if res.ContentLength > p.cfg.MaxBytes {
		return "", mediaerr.Validation(sizeMessage(p.cfg.MaxBytes))
	}

	dest := filepath.Join(jobDir, "source"+sourceExt(res.Request.URL, res.Header.Get("Content-Type"), kind))
	pending, err := renameio.NewPendingFile(dest, renameio.WithTempDir(jobDir))
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", mediaerr.ErrFetchFailed, dest, err)
	}
	defer pending.Cleanup()

	written, err := io.Copy(pending, io.LimitReader(res.Body, p.cfg.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", mediaerr.ErrFetchFailed, redactURL(err))
	}
	if written > p.cfg.MaxBytes {
		return "", mediaerr.Validation(sizeMessage(p.cfg.MaxBytes))
	}
	if written == 0 {
		return "", fmt.Errorf("%w: empty body", mediaerr.ErrFetchFailed)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("%w: commit %s: %w", mediaerr.ErrFetchFailed, dest, err)
	}
	return dest, nil
}

// followRedirect issues one HEAD request with redirects disabled. It returns
// the Location target when there is one, otherwise the original locator,
// together with any declared Content-Length (-1 when unknown). A failed HEAD
// is not an error; the GET decides.
func (p *Pipeline) followRedirect(ctx context.Context, locator string) (string, int64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		return locator, -1
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	res, err := p.headClient.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Debug("head request failed, using original locator", "error", redactURL(err))
		}
		return locator, -1
	}
	defer res.Body.Close()
	location := strings.TrimSpace(res.Header.Get("Location"))
	if res.StatusCode >= 300 && res.StatusCode <= 399 && location != "" {
		next, err := req.URL.Parse(location)
		if err != nil {
			return locator, -1
		}
		return next.String(), -1
	}
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return locator, res.ContentLength
	}
	return locator, -1
}

// redactURL drops the request URL from a transport error. Telegram file
// locators carry the bot token in their path.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

func sourceExt(u *url.URL, contentType string, kind media.Kind) string {
	if u != nil {
		if ext := strings.ToLower(path.Ext(u.Path)); knownExts[ext] {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := contentTypeExts[mediaType]; ok {
			return ext
		}
	}
	switch kind {
	case media.KindAudio:
		return ".mp3"
	case media.KindSticker, media.KindImage:
		return ".bin"
	default:
		return ".mp4"
	}
}
