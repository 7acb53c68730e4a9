package transform

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Passthrough copies the input when it already has the requested format.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Supports(inputPath string, profile Profile) bool {
	if isHLSInput(inputPath) {
		return false
	}
	if profile.Format == "" {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(inputPath), "."), profile.Format)
}

func (Passthrough) Transform(ctx context.Context, inputPath, outputPath string, _ Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy input: %w", err)
	}
	return out.Close()
}
