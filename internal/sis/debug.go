package sis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/storage"
)

// DebugSink receives raw SIS payloads when debugging is enabled.
type DebugSink interface {
	Write(ctx context.Context, name string, payload []byte) error
}

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

func debugFileName(name string) string {
	return nameReplacer.Replace(name) + ".json"
}

// FileSink writes each payload to its own file under dir.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir}
}

func (s *FileSink) Write(_ context.Context, name string, payload []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, debugFileName(name)), payload, 0o600)
}

// StorageSink uploads payloads to object storage under prefix.
type StorageSink struct {
	store  storage.Storage
	prefix string
}

func NewStorageSink(store storage.Storage, prefix string) *StorageSink {
	return &StorageSink{store: store, prefix: prefix}
}

func (s *StorageSink) Write(ctx context.Context, name string, payload []byte) error {
	return s.store.Upload(ctx, s.prefix+debugFileName(name), bytes.NewReader(payload), "application/json")
}

// NewDebugSink picks the sink configured for the SIS client. It returns nil when
// debugging is off; store may be nil unless the s3 sink is selected.
func NewDebugSink(cfg config.SISConfig, store storage.Storage) (DebugSink, error) {
	if !cfg.Debug {
		return nil, nil
	}
	switch cfg.DebugSink {
	case "s3":
		if store == nil {
			return nil, fmt.Errorf("debug sink s3 selected but storage is not configured")
		}
		return NewStorageSink(store, "sis-debug/"), nil
	default:
		return NewFileSink(cfg.DebugDir), nil
	}
}
