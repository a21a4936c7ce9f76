package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "plain", key: "noirvrs_guest_profile.json", want: "noirvrs_guest_profile.json"},
		{name: "leading slash", key: "/profiles/a.json", want: "profiles/a.json"},
		{name: "backslashes", key: `profiles\a.json`, want: "profiles/a.json"},
		{name: "dot prefix", key: "./a.json", want: "a.json"},
		{name: "traversal", key: "../etc/passwd", wantErr: true},
		{name: "parent only", key: "..", wantErr: true},
		{name: "empty", key: "  ", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sanitizeKey(tc.key)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("sanitizeKey(%q) = %q, want error", tc.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("sanitizeKey(%q) returned error: %v", tc.key, err)
			}
			if got != tc.want {
				t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Read(ctx, "profile.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Read() before write error = %v, want ErrNotExist", err)
	}

	key, err := store.Write(ctx, "profile.json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "profile.json" {
		t.Fatalf("Write key = %q, want %q", key, "profile.json")
	}
	if _, err := store.Write(ctx, "profile.json", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second Write returned error: %v", err)
	}
	data, err := store.Read(ctx, "profile.json")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(data) != `{"a":2}` {
		t.Fatalf("Read = %q, want %q", data, `{"a":2}`)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the record file, found %d entries", len(entries))
	}

	if err := store.Remove(ctx, "profile.json"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if err := store.Remove(ctx, "profile.json"); err != nil {
		t.Fatalf("Remove of missing key returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "profile.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("record still present after Remove: %v", err)
	}
}

func TestFileStoreHonorsContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a.json", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Write error = %v, want context.Canceled", err)
	}
}
