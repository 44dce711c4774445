package handlers_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/runpod"
)

func projectForm(t *testing.T, fields map[string]string, withAudio bool) (string, *bytes.Buffer) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withAudio {
		part, err := mw.CreateFormFile("audio", "song.mp3")
		require.NoError(t, err)
		_, err = part.Write([]byte("ID3 fake audio"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), body
}

func defaultFields() map[string]string {
	return map[string]string{
		"artist_name":   "Queen",
		"song_title":    "Bohemian Rhapsody",
		"lyrics":        testLyrics,
		"video_quality": "720p",
	}
}

func TestCreateProject(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 10)

	contentType, body := projectForm(t, defaultFields(), true)
	w := s.do(t, http.MethodPost, "/api/v1/projects", userID, contentType, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[models.ProjectResponse](t, w)
	assert.Equal(t, models.StatusProcessing, resp.Status)
	assert.Equal(t, 4, resp.CreditsCharged)
	assert.True(t, resp.IncludeLyrics)
	assert.True(t, resp.NotifyOnComplete)
	assert.Equal(t, "Queen - Bohemian Rhapsody", resp.Title)
	assert.NotEmpty(t, resp.JobID)

	w = s.do(t, http.MethodGet, "/api/v1/projects", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ProjectListResponse](t, w)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, resp.ID, list.Projects[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/credits", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, decode[models.CreditsResponse](t, w).CreditsRemaining)
}

func TestCreateProject_Rejections(t *testing.T) {
	s := newTestServer(t)
	poor := s.newUser(t, models.TierFree, 3)
	rich := s.newUser(t, models.TierFree, 50)

	contentType, body := projectForm(t, defaultFields(), true)
	w := s.do(t, http.MethodPost, "/api/v1/projects", poor, contentType, body)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	insufficient := decode[models.InsufficientCreditsResponse](t, w)
	assert.Equal(t, 4, insufficient.CreditsNeeded)
	assert.Equal(t, 3, insufficient.CreditsAvailable)
	assert.Equal(t, 1, insufficient.Shortfall)

	contentType, body = projectForm(t, defaultFields(), false)
	w = s.do(t, http.MethodPost, "/api/v1/projects", rich, contentType, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	fields := defaultFields()
	fields["lyrics"] = "too short"
	contentType, body = projectForm(t, fields, true)
	w = s.do(t, http.MethodPost, "/api/v1/projects", rich, contentType, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	fields = defaultFields()
	fields["video_quality"] = "4k"
	contentType, body = projectForm(t, fields, true)
	w = s.do(t, http.MethodPost, "/api/v1/projects", rich, contentType, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	contentType, body = projectForm(t, defaultFields(), true)
	w = s.do(t, http.MethodPost, "/api/v1/projects", uuid.Nil, contentType, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateProject_DispatchFailure(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 10)
	s.worker.err = runpod.ErrDispatch

	contentType, body := projectForm(t, defaultFields(), true)
	w := s.do(t, http.MethodPost, "/api/v1/projects", userID, contentType, body)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	balance, err := s.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestTwoStageRoutes(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierPro, 20)

	fields := defaultFields()
	fields["auto_start"] = "false"
	contentType, body := projectForm(t, fields, true)
	w := s.do(t, http.MethodPost, "/api/v1/projects", userID, contentType, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.ProjectResponse](t, w)
	assert.Equal(t, models.StatusQueued, created.Status)
	base := "/api/v1/projects/" + created.ID

	w = s.do(t, http.MethodPost, base+"/transcribe", userID, "", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, models.StatusTranscribing, decode[models.StatusResponse](t, w).Status)

	w = s.do(t, http.MethodPost, base+"/process", userID, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, base+"/lyrics", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lyrics := decode[models.LyricsResponse](t, w)
	assert.Equal(t, testLyrics, lyrics.Text)
	assert.NotNil(t, lyrics.Lyrics)
	assert.Empty(t, lyrics.Lyrics)

	w = s.postCallback(t, "/api/v1/webhooks/worker?token="+callbackSecret, "",
		`{"project_id":"`+created.ID+`","status":"transcribed","results":{"lyrics":[{"word":"Is","start":0.5,"end":0.7}]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, base+"/render", userID, "application/json",
		strings.NewReader(`{"lyrics":[{"word":"Is","start":0.4,"end":0.7}]}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, models.StatusRendering, decode[models.StatusResponse](t, w).Status)

	w = s.do(t, http.MethodGet, base+"/download", userID, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.postCallback(t, "/api/v1/webhooks/worker?token="+callbackSecret, "",
		`{"project_id":"`+created.ID+`","status":"completed","results":{"video_url":"https://r2.example.com/video.mp4"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, base+"/download", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	download := decode[models.DownloadResponse](t, w)
	assert.Equal(t, "https://r2.example.com/video.mp4", download.URLs["video"])
	assert.Contains(t, download.URLs["original"], "memory://")
	assert.Equal(t, 3600, download.ExpiresIn)
}

func TestProjectRoutes_NotFound(t *testing.T) {
	s := newTestServer(t)
	owner := s.newUser(t, models.TierFree, 10)
	other := s.newUser(t, models.TierFree, 10)
	project := s.createProject(t, owner)

	w := s.do(t, http.MethodGet, "/api/v1/projects/"+project.ID.String(), other, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/projects/not-a-uuid", owner, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/projects/"+project.ID.String(), owner, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMeAndQuote(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierPro, 3)

	w := s.do(t, http.MethodGet, "/api/v1/me", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[models.MeResponse](t, w)
	assert.Equal(t, models.TierPro, me.Tier)
	assert.Equal(t, 3, me.CreditsRemaining)
	assert.True(t, me.HasSubscription)
	assert.True(t, me.CanEditLyrics)
	assert.Equal(t, "4k", me.MaxQuality)

	w = s.do(t, http.MethodPost, "/api/v1/credits/quote", userID, "application/json",
		strings.NewReader(`{"processing_type":"both","video_quality":"1080p","review_lyrics":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	quote := decode[models.QuoteResponse](t, w)
	assert.Equal(t, 8, quote.Credits)
	assert.Equal(t, 3, quote.CreditsAvailable)
	assert.False(t, quote.Affordable)

	w = s.do(t, http.MethodPost, "/api/v1/credits/quote", userID, "application/json",
		strings.NewReader(`{"video_quality":"8k"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingRoutes(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 0)

	w := s.do(t, http.MethodGet, "/api/v1/billing/plans", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"studio"`)

	w = s.do(t, http.MethodPost, "/api/v1/billing/portal", userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/billing/checkout", userID, "application/json", strings.NewReader(`{"package_id":"small"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/payment", decode[models.CheckoutResponse](t, w).URL)

	w = s.do(t, http.MethodPost, "/api/v1/billing/checkout", userID, "application/json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/billing/portal", userID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
