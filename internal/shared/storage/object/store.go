package object

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound indicates the requested key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the contract for saving and retrieving keyed objects.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
