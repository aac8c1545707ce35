// Package theme persists the dashboard's light/dark mode.
package theme

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mode is a color scheme.
type Mode string

const (
	Light Mode = "light"
	Dark  Mode = "dark"
)

// ErrInvalidMode is returned for modes other than light and dark.
var ErrInvalidMode = errors.New("theme must be light or dark")

// ParseMode parses a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Light, Dark:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

type file struct {
	Theme Mode `yaml:"theme"`
}

// Store holds the process-wide theme. An empty path keeps it in memory
// only. Store is safe for concurrent use.
type Store struct {
	path string

	mu   sync.RWMutex
	mode Mode
}

// Load reads the persisted mode from path. A missing file yields Light.
func Load(path string) (*Store, error) {
	s := &Store{path: path, mode: Light}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read theme: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse theme %s: %w", path, err)
	}
	if f.Theme == "" {
		return s, nil
	}
	m, err := ParseMode(string(f.Theme))
	if err != nil {
		return nil, fmt.Errorf("parse theme %s: %w", path, err)
	}
	s.mode = m
	return s, nil
}

// Mode returns the current mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Set changes and persists the mode.
func (s *Store) Set(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(m); err != nil {
		return err
	}
	s.mode = m
	return nil
}

// Toggle flips between light and dark and returns the new mode.
func (s *Store) Toggle() (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Dark
	if s.mode == Dark {
		next = Light
	}
	if err := s.save(next); err != nil {
		return s.mode, err
	}
	s.mode = next
	return next, nil
}

func (s *Store) save(m Mode) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(file{Theme: m})
	if err != nil {
		return fmt.Errorf("encode theme: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("write theme: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write theme: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write theme: %w", err)
	}
	return nil
}
