package memstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Objects keeps uploaded files in memory. Signed URLs use the memory://
// scheme and are only meaningful to tests and local runs.
type Objects struct {
	mu    sync.Mutex
	files map[string]object
}

type object struct {
	contentType string
	data        []byte
}

func NewObjects() *Objects {
	return &Objects{files: make(map[string]object)}
}

func (o *Objects) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	o.files[path] = object{contentType: contentType, data: buf}
	return nil
}

func (o *Objects) SignedURL(ctx context.Context, path string, expiresIn time.Duration, downloadName string) (string, error) {
	o.mu.Lock()
	_, ok := o.files[path]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", path)
	}

	q := url.Values{}
	q.Set("expires", fmt.Sprint(int(expiresIn.Seconds())))
	if downloadName != "" {
		q.Set("download", downloadName)
	}
	return "memory://" + path + "?" + q.Encode(), nil
}

func (o *Objects) Delete(ctx context.Context, paths ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range paths {
		delete(o.files, p)
	}
	return nil
}

// Has reports whether path is stored.
func (o *Objects) Has(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.files[path]
	return ok
}
