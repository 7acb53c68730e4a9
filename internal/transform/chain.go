package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/metrics"
)

type Invoker interface {
	Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error
}

// Method is one way of producing a profile's output. Supports must be cheap;
// it only looks at the input path and profile.
type Method interface {
	Name() string
	Supports(inputPath string, profile Profile) bool
	Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error
}

const defaultMethodTimeout = 2 * time.Minute

// Chain tries its methods in order until one leaves a non-empty output file.
type Chain struct {
	methods []Method
	timeout time.Duration
	logger  *slog.Logger
}

func NewChain(timeout time.Duration, logger *slog.Logger, methods ...Method) *Chain {
	if timeout <= 0 {
		timeout = defaultMethodTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		methods: methods,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *Chain) Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	var failures []error
	attempted := 0
	for _, method := range c.methods {
		if !method.Supports(inputPath, profile) {
			continue
		}
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		attempted++
		_ = os.Remove(outputPath)

		started := time.Now()
		err := c.attempt(ctx, method, inputPath, outputPath, profile)
		if err == nil {
			metrics.TransformAttemptTotal.WithLabelValues(profile.Name, method.Name(), "ok").Inc()
			c.logger.Debug("transform succeeded",
				"profile", profile.Name,
				"method", method.Name(),
				"duration", time.Since(started),
			)
			return nil
		}
		metrics.TransformAttemptTotal.WithLabelValues(profile.Name, method.Name(), "error").Inc()
		c.logger.Warn("transform method failed",
			"profile", profile.Name,
			"method", method.Name(),
			"error", err,
		)
		_ = os.Remove(outputPath)
		failures = append(failures, fmt.Errorf("%s: %w", method.Name(), err))
	}
	if attempted == 0 && len(failures) == 0 {
		return fmt.Errorf("%w: no method supports %s for profile %s", mediaerr.ErrTransformFailed, inputPath, profile.Name)
	}
	return fmt.Errorf("%w: %w", mediaerr.ErrTransformFailed, errors.Join(failures...))
}

func (c *Chain) attempt(ctx context.Context, method Method, inputPath, outputPath string, profile Profile) error {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := method.Transform(runCtx, inputPath, outputPath, profile); err != nil {
		return err
	}
	return checkOutput(outputPath)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("output is empty")
	}
	return nil
}
