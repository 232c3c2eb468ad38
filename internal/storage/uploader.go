package storage

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/neuhoffm/firecms/internal/logger"
)

type UploadResult struct {
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	SHA256      string            `json:"sha256"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Uploader — внешний контракт хранилища: загрузить файл и получить ссылку.
// Ссылки запоминаются по пути на всё время жизни процесса.
type Uploader struct {
	store BlobStore
	urls  sync.Map // path -> url
	group singleflight.Group
}

func NewUploader(store BlobStore) *Uploader {
	return &Uploader{store: store}
}

func (u *Uploader) Store() BlobStore { return u.store }

// UploadFile кладёт r по пути dir/name. Пустое имя заменяется ULID.
// Тип содержимого берётся из metadata["contentType"] или по расширению.
func (u *Uploader) UploadFile(ctx context.Context, r io.Reader, name, dir string, metadata map[string]string) (UploadResult, error) {
	name = SafeName(name)
	if name == "" {
		name = strings.ToLower(ulid.Make().String())
	}
	key, err := CleanKey(path.Join(dir, name))
	if err != nil {
		return UploadResult{}, err
	}
	ct := metadata["contentType"]
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(name))
	}
	obj, err := u.store.Put(ctx, key, r, PutOptions{ContentType: ct, Metadata: metadata})
	if err != nil {
		return UploadResult{}, err
	}
	logger.From(ctx).Info("file uploaded", "path", obj.Key, "size", obj.Size)
	return UploadResult{
		Path:        obj.Key,
		Size:        obj.Size,
		SHA256:      obj.SHA256,
		ContentType: obj.ContentType,
		Metadata:    metadata,
	}, nil
}

// DownloadURL возвращает ссылку на файл. Одновременные запросы одного
// пути уходят в драйвер один раз; ошибки не запоминаются.
func (u *Uploader) DownloadURL(ctx context.Context, p string) (string, error) {
	key, err := CleanKey(p)
	if err != nil {
		return "", err
	}
	if v, ok := u.urls.Load(key); ok {
		return v.(string), nil
	}
	v, err, _ := u.group.Do(key, func() (any, error) {
		if v, ok := u.urls.Load(key); ok {
			return v, nil
		}
		url, err := u.store.URL(ctx, key)
		if err != nil {
			return "", err
		}
		u.urls.Store(key, url)
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SafeName оставляет от имени файла только базовую часть.
func SafeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
