package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Storage keeps large cached payloads outside the database row.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}
