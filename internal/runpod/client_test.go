package runpod_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/runpod"
)

func TestSubmit(t *testing.T) {
	var got struct {
		Input runpod.JobInput `json:"input"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/endpoint-1/run", r.URL.Path)
		assert.Equal(t, "Bearer rp-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"job-123","status":"IN_QUEUE"}`))
	}))
	defer server.Close()

	client := runpod.NewClient(server.URL, "endpoint-1", "rp-key", 5*time.Second)
	jobID, err := client.Submit(context.Background(), runpod.JobInput{
		Mode:           runpod.ModeTranscribe,
		ProjectID:      "p-1",
		AudioURL:       "https://storage.example.com/signed",
		ProcessingType: models.ProcessingRemoveVocals,
		VideoQuality:   models.Quality720p,
		IncludeLyrics:  true,
		CallbackURL:    runpod.CallbackURL("https://api.example.com", "secret"),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-123", jobID)

	assert.Equal(t, runpod.ModeTranscribe, got.Input.Mode)
	assert.Equal(t, "p-1", got.Input.ProjectID)
	assert.Equal(t, "https://api.example.com/api/v1/webhooks/worker?token=secret", got.Input.CallbackURL)
}

func TestCallbackURL_EscapesToken(t *testing.T) {
	raw := runpod.CallbackURL("https://api.example.com/", "a&b+c=d/e")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/webhooks/worker", u.Path)
	assert.Equal(t, "a&b+c=d/e", u.Query().Get("token"))
	assert.Len(t, u.Query(), 1)

	assert.Equal(t, "https://api.example.com/api/v1/webhooks/worker", runpod.CallbackURL("https://api.example.com", ""))
}

func TestSubmit_NonSuccessIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"no workers"}`))
	}))
	defer server.Close()

	client := runpod.NewClient(server.URL, "endpoint-1", "rp-key", 5*time.Second)
	_, err := client.Submit(context.Background(), runpod.JobInput{Mode: runpod.ModeFull})
	require.Error(t, err)
	assert.ErrorIs(t, err, runpod.ErrDispatch)
	assert.Contains(t, err.Error(), "503")
}

func TestSubmit_EmptyJobIDIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"IN_QUEUE"}`))
	}))
	defer server.Close()

	client := runpod.NewClient(server.URL, "endpoint-1", "rp-key", 5*time.Second)
	_, err := client.Submit(context.Background(), runpod.JobInput{Mode: runpod.ModeRender})
	assert.ErrorIs(t, err, runpod.ErrDispatch)
}

func TestSubmit_TransportErrorIsDispatchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := runpod.NewClient(url, "endpoint-1", "rp-key", time.Second)
	_, err := client.Submit(context.Background(), runpod.JobInput{Mode: runpod.ModeFull})
	assert.ErrorIs(t, err, runpod.ErrDispatch)
}

func TestCallbackPayloadDecoding(t *testing.T) {
	body := `{
		"project_id": "p-1",
		"status": "transcribed",
		"results": {
			"processed_audio_url": "https://r2.example.com/instrumental.mp3",
			"lyrics": [{"word": "hello", "start": 1.5, "end": 2.0}]
		}
	}`

	var payload runpod.CallbackPayload
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, runpod.CallbackTranscribed, payload.Status)
	assert.Equal(t, "https://r2.example.com/instrumental.mp3", payload.Results.ProcessedAudioURL)
	require.Len(t, payload.Results.Lyrics, 1)
	assert.Equal(t, models.LyricWord{Word: "hello", Start: 1.5, End: 2.0}, payload.Results.Lyrics[0])
}
