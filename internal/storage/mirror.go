// Package storage copies run artifacts to remote object storage.
package storage

import (
	"context"
	"path/filepath"
	"strings"
)

// Mirror receives a copy of every artifact written to the output directory.
type Mirror interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Nop is the mirror used when no remote storage is configured.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
