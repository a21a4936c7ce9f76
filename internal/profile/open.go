package profile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// OpenBackend selects a backend by name: "file" (default), "sqlite" or
// "memory". The returned close func is never nil.
func OpenBackend(ctx context.Context, kind, path string) (Backend, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "file":
		b, err := NewFileBackend(path)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case "sqlite":
		if !strings.HasSuffix(path, ".db") && path != ":memory:" {
			path = filepath.Join(path, "noirvrs.db")
		}
		b, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	case "memory":
		return NewMemoryBackend(), noop, nil
	default:
		return nil, noop, fmt.Errorf("profile: unknown backend %q", kind)
	}
}
