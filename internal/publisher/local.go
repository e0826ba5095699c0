package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalPublisher copies files into a directory tree mirroring the object keys.
type LocalPublisher struct {
	root   string
	prefix string
	logger *slog.Logger
}

// NewLocalPublisher creates a publisher rooted at dir.
func NewLocalPublisher(dir, prefix string, logger *slog.Logger) (*LocalPublisher, error) {
	if dir == "" {
		return nil, fmt.Errorf("local publisher requires a directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalPublisher{root: dir, prefix: prefix, logger: logger}, nil
}

// Publish implements Publisher. The copy is written to a temporary name and renamed.
func (p *LocalPublisher) Publish(ctx context.Context, localPath, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(p.root, filepath.FromSlash(joinPrefix(p.prefix, key)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", dst, err)
	}

	p.logger.Info("published file", "path", dst)
	return nil
}
