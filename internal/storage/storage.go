// Package storage — файловое хранилище для свойств-файлов: загрузка и
// получение ссылки на скачивание. Драйверы: локальный каталог и S3.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Object — что записано: ключ, размер, sha256.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"contentType,omitempty"`
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// BlobStore — драйвер хранилища. Ключи — пути через '/'.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

// CleanKey приводит ключ к виду "a/b/c" и не даёт выйти за корень.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	c := path.Clean("/" + key)
	c = strings.TrimPrefix(c, "/")
	if c == "" || c == "." {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return c, nil
}
