package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"karatrack-backend/internal/handlers"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/payments"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
)

func (s *testServer) createProject(t *testing.T, userID uuid.UUID) *models.Project {
	t.Helper()
	project, err := s.projects.CreateProject(context.Background(), services.CreateProjectInput{
		UserID:           userID,
		ArtistName:       "Queen",
		SongTitle:        "Bohemian Rhapsody",
		Lyrics:           testLyrics,
		VideoQuality:     models.Quality720p,
		IncludeLyrics:    true,
		AutoStart:        true,
		NotifyOnComplete: true,
		Audio:            services.AudioUpload{Filename: "song.mp3", ContentType: "audio/mpeg", Data: []byte("ID3")},
	})
	require.NoError(t, err)
	return project
}

func (s *testServer) postCallback(t *testing.T, target string, auth string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestWorkerCallback_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	body := `{"project_id":"` + uuid.NewString() + `","status":"completed"}`

	w := s.postCallback(t, "/api/v1/webhooks/worker", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postCallback(t, "/api/v1/webhooks/worker?token=wrong", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postCallback(t, "/api/v1/webhooks/worker", "Bearer wrong", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkerCallback_AppliesThenIgnores(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 10)
	project := s.createProject(t, userID)

	body := fmt.Sprintf(`{
		"project_id": %q,
		"status": "completed",
		"results": {"video_url": "https://r2.example.com/video.mp4"}
	}`, project.ID)

	w := s.postCallback(t, "/api/v1/webhooks/worker?token="+callbackSecret, "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	w = s.postCallback(t, "/api/v1/webhooks/worker", "Bearer "+callbackSecret, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode[map[string]string](t, w)["status"])

	done, err := s.projects.Get(context.Background(), userID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

func TestWorkerCallback_BadPayloads(t *testing.T) {
	s := newTestServer(t)
	target := "/api/v1/webhooks/worker?token=" + callbackSecret

	w := s.postCallback(t, target, "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.postCallback(t, target, "", `{"project_id":"abc","status":"completed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.postCallback(t, target, "", `{"project_id":"`+uuid.NewString()+`","status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkerCallback_TokenWithReservedCharacters(t *testing.T) {
	s := newTestServer(t)
	const secret = "a&b+c=d/e"
	router := gin.New()
	router.POST("/api/v1/webhooks/worker", handlers.NewWebhookHandler(s.projects, secret).HandleWorkerCallback)

	body := `{"project_id":"` + uuid.NewString() + `","status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, runpod.CallbackURL("", secret), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Past the token check, the unknown project is what gets rejected.
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func signedStripeRequest(t *testing.T, secret string, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func creditsCheckoutEvent(t *testing.T, userID uuid.UUID) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":     "cs_test_1",
				"object": "checkout.session",
				"metadata": map[string]string{
					payments.MetaUserID:    userID.String(),
					payments.MetaPurchase:  payments.PurchaseCredits,
					payments.MetaPackageID: "small",
				},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 0)

	req := signedStripeRequest(t, "whsec_other", creditsCheckoutEvent(t, userID))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unsigned := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(creditsCheckoutEvent(t, userID)))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, unsigned)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	balance, err := s.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestStripeWebhook_CreditsPurchase(t *testing.T) {
	s := newTestServer(t)
	userID := s.newUser(t, models.TierFree, 0)
	payload := creditsCheckoutEvent(t, userID)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, signedStripeRequest(t, stripeSecret, payload))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	balance, err := s.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}
