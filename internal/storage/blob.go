// Package storage persists completed media transfers to the local filesystem,
// one directory per device.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/util"
)

// FileStore writes blobs under root/<deviceID>/<id>.<ext> and returns the
// relative path as the stored reference.
type FileStore struct {
	root string
	log  zerolog.Logger
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FileStore{
		root: root,
		log:  log.With().Str("mod", "storage").Logger(),
	}, nil
}

func (s *FileStore) Store(deviceID string, data []byte, ext string) (string, error) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	dir := filepath.Join(s.root, deviceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create device dir: %w", err)
	}

	name := util.GenerateID() + "." + ext
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}

	rel := filepath.ToSlash(filepath.Join(deviceID, name))
	s.log.Debug().Str("path", rel).Int("bytes", len(data)).Msg("blob stored")
	return rel, nil
}

// Open returns the absolute path for a stored reference, verifying it stays
// inside the media root.
func (s *FileStore) Open(ref string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	clean, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	if len(clean) < len(rootAbs) || clean[:len(rootAbs)] != rootAbs {
		return "", fmt.Errorf("reference escapes media root")
	}
	return clean, nil
}
