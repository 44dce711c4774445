package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/email"
	"karatrack-backend/internal/handlers"
	"karatrack-backend/internal/memstore"
	"karatrack-backend/internal/middleware"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/payments"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
)

const (
	callbackSecret = "cb-secret"
	stripeSecret   = "whsec_test"
	testLyrics     = "Is this the real life? Is this just fantasy? Caught in a landslide"
)

type stubWorker struct {
	err error
}

func (w *stubWorker) Submit(ctx context.Context, input runpod.JobInput) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	return "job-" + input.ProjectID[:8], nil
}

type stubGateway struct{}

func (stubGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	return "cus_stub", nil
}

func (stubGateway) CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (string, error) {
	return "https://checkout.stripe.test/" + string(params.Mode), nil
}

func (stubGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/portal", nil
}

func (stubGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return nil
}

type testServer struct {
	store    *memstore.Store
	ledger   *credits.Ledger
	projects *services.ProjectService
	worker   *stubWorker
	router   *gin.Engine
}

// newTestServer wires the handlers onto a router that trusts an X-User-ID
// header in place of the JWT middleware.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	catalog := credits.NewCatalog(credits.PriceIDs{Pro: "price_pro", CreditsSmall: "price_small"})
	ledger := credits.NewLedger(store, 0)
	worker := &stubWorker{}
	notifier := services.NewNotifier(store, email.NewLogSender(nil), "Karatrack <noreply@karatrack.app>", "https://karatrack.app", time.Second)
	projects := services.NewProjectService(store, ledger, catalog, memstore.NewObjects(), worker, notifier, services.ProjectConfig{
		BaseURL:         "https://api.karatrack.app",
		CallbackSecret:  callbackSecret,
		MinLyricsLength: 20,
		SignedURLTTL:    time.Hour,
	})
	billing := services.NewBillingService(store, ledger, catalog, stubGateway{}, "https://karatrack.app")

	projectsHandler := handlers.NewProjectsHandler(projects, 10<<20, false)
	creditsHandler := handlers.NewCreditsHandler(ledger, catalog, projects, false)
	billingHandler := handlers.NewBillingHandler(billing, false)

	router := gin.New()
	router.POST("/api/v1/webhooks/worker", handlers.NewWebhookHandler(projects, callbackSecret).HandleWorkerCallback)
	router.POST("/api/v1/webhooks/stripe", handlers.NewStripeWebhookHandler(billing, stripeSecret).HandleStripeWebhook)

	api := router.Group("/api/v1", func(c *gin.Context) {
		if id := c.GetHeader("X-User-ID"); id != "" {
			c.Set(middleware.UserIDKey, id)
			c.Set(middleware.EmailKey, "singer@example.com")
		}
		c.Next()
	})
	api.GET("/me", creditsHandler.GetMe)
	api.GET("/credits", creditsHandler.GetCredits)
	api.POST("/credits/quote", creditsHandler.Quote)
	api.POST("/projects", projectsHandler.CreateProject)
	api.GET("/projects", projectsHandler.ListProjects)
	api.GET("/projects/:project_id", projectsHandler.GetProject)
	api.POST("/projects/:project_id/process", projectsHandler.StartProcessing)
	api.POST("/projects/:project_id/transcribe", projectsHandler.StartTranscription)
	api.GET("/projects/:project_id/lyrics", projectsHandler.GetLyrics)
	api.POST("/projects/:project_id/render", projectsHandler.SubmitRender)
	api.GET("/projects/:project_id/download", projectsHandler.Download)
	api.GET("/billing/plans", billingHandler.Plans)
	api.GET("/billing/packages", billingHandler.Packages)
	api.POST("/billing/checkout", billingHandler.Checkout)
	api.POST("/billing/portal", billingHandler.Portal)

	return &testServer{store: store, ledger: ledger, projects: projects, worker: worker, router: router}
}

func (s *testServer) newUser(t *testing.T, tier models.Tier, balance int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	_, err := s.ledger.EnsureAccount(ctx, userID, "singer@example.com")
	require.NoError(t, err)
	if balance > 0 {
		_, err = s.ledger.Credit(ctx, credits.CreditRequest{UserID: userID, Amount: balance, Kind: models.KindBonus, Description: "test balance"})
		require.NoError(t, err)
	}
	if tier != models.TierFree {
		require.NoError(t, s.store.SetSubscription(ctx, userID, tier, "sub_test"))
	}
	return userID
}

func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != uuid.Nil {
		req.Header.Set("X-User-ID", userID.String())
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
