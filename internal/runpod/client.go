package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
)

// ErrDispatch marks a failure to hand a job to the worker (transport error,
// timeout or non-2xx answer), as opposed to a business rejection.
var ErrDispatch = errors.New("worker dispatch failed")

type Mode string

const (
	ModeFull       Mode = "full"
	ModeTranscribe Mode = "transcribe"
	ModeRender     Mode = "render"
)

// JobInput is the "input" object of a serverless run request.
type JobInput struct {
	Mode             Mode                  `json:"mode"`
	ProjectID        string                `json:"project_id"`
	AudioURL         string                `json:"audio_url"`
	ProcessingType   models.ProcessingType `json:"processing_type"`
	IncludeLyrics    bool                  `json:"include_lyrics"`
	VideoQuality     models.VideoQuality   `json:"video_quality"`
	TrackNumber      string                `json:"track_number,omitempty"`
	ArtistName       string                `json:"artist_name"`
	SongTitle        string                `json:"song_title"`
	LyricsText       string                `json:"lyrics_text,omitempty"`
	Style            models.StyleOptions   `json:"style"`
	SubscriptionTier models.Tier           `json:"subscription_tier"`
	CallbackURL      string                `json:"callback_url"`

	// Render mode only: reuse stage-one outputs instead of separating again.
	ProcessedAudioURL string             `json:"processed_audio_url,omitempty"`
	VocalsAudioURL    string             `json:"vocals_audio_url,omitempty"`
	LyricsTiming      []models.LyricWord `json:"lyrics_timing,omitempty"`
}

type runRequest struct {
	Input JobInput `json:"input"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CallbackStatus values posted back by the worker.
type CallbackStatus string

const (
	CallbackTranscribed CallbackStatus = "transcribed"
	CallbackCompleted   CallbackStatus = "completed"
	CallbackFailed      CallbackStatus = "failed"
)

type CallbackResults struct {
	ProcessedAudioURL string             `json:"processed_audio_url,omitempty"`
	VocalsAudioURL    string             `json:"vocals_audio_url,omitempty"`
	VideoURL          string             `json:"video_url,omitempty"`
	ThumbnailURL      string             `json:"thumbnail_url,omitempty"`
	Lyrics            []models.LyricWord `json:"lyrics,omitempty"`
}

// CallbackPayload is the body the worker POSTs to the callback URL.
type CallbackPayload struct {
	ProjectID string          `json:"project_id"`
	Status    CallbackStatus  `json:"status"`
	Results   CallbackResults `json:"results"`
	Error     string          `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	endpointID string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, endpointID, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		endpointID: endpointID,
		apiKey:     apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit queues a job and returns the worker's job handle. It makes exactly
// one attempt.
func (c *Client) Submit(ctx context.Context, input JobInput) (string, error) {
	start := time.Now()
	jobID, err := c.submit(ctx, input)
	metrics.DispatchDuration.WithLabelValues(string(input.Mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(string(input.Mode), "error").Inc()
		return "", err
	}
	metrics.DispatchTotal.WithLabelValues(string(input.Mode), "ok").Inc()
	return jobID, nil
}

func (c *Client) submit(ctx context.Context, input JobInput) (string, error) {
	jsonData, err := json.Marshal(runRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/" + c.endpointID + "/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response body: %v", ErrDispatch, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d, body: %s", ErrDispatch, resp.StatusCode, string(body))
	}

	var result runResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v, body: %s", ErrDispatch, err, string(body))
	}

	if result.ID == "" {
		return "", fmt.Errorf("%w: job id is empty in response, body: %s", ErrDispatch, string(body))
	}

	return result.ID, nil
}

// CallbackURL builds the address the worker reports back to.
func CallbackURL(baseURL, token string) string {
	u := strings.TrimSuffix(baseURL, "/") + "/api/v1/webhooks/worker"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}
