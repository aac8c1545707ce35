package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Sink receives finished artifacts.
type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
}

// DirSink writes artifacts into a directory. Each file is written to a
// temporary name and renamed into place.
type DirSink struct {
	Dir string
}

// Deliver implements Sink.
func (s DirSink) Deliver(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Name == "" || filepath.Base(a.Name) != a.Name {
		return fmt.Errorf("invalid artifact name %q", a.Name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+a.Name+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", a.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", a.Name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", a.Name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, a.Name)); err != nil {
		return fmt.Errorf("rename %s: %w", a.Name, err)
	}
	return nil
}

// MemorySink keeps delivered artifacts in memory.
type MemorySink struct {
	mu        sync.Mutex
	artifacts []Artifact
}

// Deliver implements Sink.
func (s *MemorySink) Deliver(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
	return nil
}

// Artifacts returns the delivered artifacts in delivery order.
func (s *MemorySink) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.artifacts)
}

// ZipSink streams artifacts into a zip archive. Close must be called to
// finish the archive.
type ZipSink struct {
	zw  *zip.Writer
	now func() time.Time
}

// NewZipSink returns a sink writing a zip archive to w.
func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w), now: time.Now}
}

// Deliver implements Sink.
func (s *ZipSink) Deliver(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fw, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     a.Name,
		Method:   zip.Deflate,
		Modified: s.now(),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", a.Name, err)
	}
	if _, err := fw.Write(a.Data); err != nil {
		return fmt.Errorf("write %s: %w", a.Name, err)
	}
	return nil
}

// Close writes the zip central directory.
func (s *ZipSink) Close() error {
	return s.zw.Close()
}
