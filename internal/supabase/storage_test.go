package supabase_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/supabase"
)

func TestStorageClient_Upload(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"Key":"karaoke/users/u/original.mp3"}`))
	}))
	defer server.Close()

	client := supabase.NewStorageClient(server.URL, "service-role", "karaoke", time.Second)
	require.NoError(t, client.Upload(context.Background(), "users/u/original.mp3", "audio/mpeg", []byte("ID3")))

	assert.True(t, strings.HasSuffix(gotPath, "/object/karaoke/users/u/original.mp3"), gotPath)
	assert.Equal(t, "Bearer service-role", gotAuth)
}

func TestStorageClient_UploadIsBounded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := supabase.NewStorageClient(server.URL, "service-role", "karaoke", 20*time.Millisecond)

	start := time.Now()
	err := client.Upload(context.Background(), "users/u/original.mp3", "audio/mpeg", []byte("ID3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
