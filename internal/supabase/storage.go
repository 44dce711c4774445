package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"
)

type StorageClient struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

// NewStorageClient talks to the storage API under supabaseURL. Each call is
// bounded by timeout when it is positive.
func NewStorageClient(supabaseURL, serviceRoleKey, bucket string, timeout time.Duration) *StorageClient {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		timeout: timeout,
	}
}

// Upload stores data at path in the bucket, replacing any existing object.
func (s *StorageClient) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := true
	return s.call(ctx, func() error {
		_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
		if err != nil {
			return fmt.Errorf("failed to upload file: %w", err)
		}
		return nil
	})
}

// SignedURL returns a time-limited link to path. A non-empty downloadName
// makes the browser save the file under that name.
func (s *StorageClient) SignedURL(ctx context.Context, path string, expiresIn time.Duration, downloadName string) (string, error) {
	var signed string
	err := s.call(ctx, func() error {
		resp, err := s.client.CreateSignedUrl(s.bucket, path, int(expiresIn.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to sign url: %w", err)
		}
		signed = resp.SignedURL
		return nil
	})
	if err != nil {
		return "", err
	}

	if downloadName != "" {
		sep := "?"
		if strings.Contains(signed, "?") {
			sep = "&"
		}
		signed += sep + "download=" + url.QueryEscape(downloadName)
	}
	return signed, nil
}

func (s *StorageClient) Delete(ctx context.Context, paths ...string) error {
	return s.call(ctx, func() error {
		if _, err := s.client.RemoveFile(s.bucket, paths); err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
		return nil
	})
}

func (s *StorageClient) call(ctx context.Context, fn func() error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return withContext(ctx, fn)
}

// withContext bounds a call to a client that takes no context. The call
// keeps running in the background if ctx ends first.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
