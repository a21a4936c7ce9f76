package profile

import (
	"bytes"
	"context"
	"sync"

	"noirvrs/internal/domain"
)

// MemoryBackend holds records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(body), nil
}

func (b *MemoryBackend) Save(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = bytes.Clone(body)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}
