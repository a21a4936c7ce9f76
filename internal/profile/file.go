package profile

import (
	"context"
	"errors"

	"noirvrs/internal/domain"
	"noirvrs/internal/storage"
)

// FileBackend keeps each record as a JSON file inside a directory.
type FileBackend struct {
	files *storage.FileStore
}

// NewFileBackend roots the backend at dir, creating it when needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &FileBackend{files: files}, nil
}

func (b *FileBackend) Load(ctx context.Context, key string) ([]byte, error) {
	body, err := b.files.Read(ctx, key+".json")
	if errors.Is(err, storage.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return body, err
}

func (b *FileBackend) Save(ctx context.Context, key string, body []byte) error {
	_, err := b.files.Write(ctx, key+".json", body)
	return err
}

func (b *FileBackend) Delete(ctx context.Context, key string) error {
	return b.files.Remove(ctx, key+".json")
}
