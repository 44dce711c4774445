package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/email"
	"karatrack-backend/internal/memstore"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/payments"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
)

const testLyrics = "Is this the real life? Is this just fantasy? Caught in a landslide"

type fakeWorker struct {
	mu     sync.Mutex
	inputs []runpod.JobInput
	err    error
}

func (f *fakeWorker) Submit(ctx context.Context, input runpod.JobInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return "", f.err
	}
	return "job-" + input.ProjectID[:8] + "-" + string(input.Mode), nil
}

func (f *fakeWorker) last() runpod.JobInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *recordingSender) Send(ctx context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]email.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

type fakeGateway struct {
	customers     int
	checkouts     []payments.CheckoutParams
	cancelled     []string
	portalReturns []string
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	f.customers++
	return "cus_" + userID.String()[:8], nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (string, error) {
	f.checkouts = append(f.checkouts, params)
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	f.portalReturns = append(f.portalReturns, returnURL)
	return "https://billing.stripe.test/portal", nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

type harness struct {
	store    *memstore.Store
	objects  *memstore.Objects
	worker   *fakeWorker
	mailer   *recordingSender
	gateway  *fakeGateway
	ledger   *credits.Ledger
	catalog  *credits.Catalog
	projects *services.ProjectService
	billing  *services.BillingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memstore.New(),
		objects: memstore.NewObjects(),
		worker:  &fakeWorker{},
		mailer:  &recordingSender{},
		gateway: &fakeGateway{},
		catalog: credits.NewCatalog(credits.PriceIDs{
			Starter:       "price_starter",
			Pro:           "price_pro",
			Studio:        "price_studio",
			CreditsSmall:  "price_small",
			CreditsMedium: "price_medium",
			CreditsLarge:  "price_large",
		}),
	}
	h.ledger = credits.NewLedger(h.store, 0)
	h.projects = h.projectService(h.store, h.ledger)
	h.billing = services.NewBillingService(h.store, h.ledger, h.catalog, h.gateway, "https://karatrack.app")
	return h
}

// projectService wires a project service over the harness fakes, letting a
// test swap the project store or the ledger.
func (h *harness) projectService(projects services.ProjectStore, ledger *credits.Ledger) *services.ProjectService {
	notifier := services.NewNotifier(h.store, h.mailer, "Karatrack <noreply@karatrack.app>", "https://karatrack.app", time.Second)
	return services.NewProjectService(projects, ledger, h.catalog, h.objects, h.worker, notifier, services.ProjectConfig{
		BaseURL:         "https://api.karatrack.app",
		CallbackSecret:  "cb-secret",
		MinLyricsLength: 20,
		SignedURLTTL:    time.Hour,
	})
}

// chargeFailingStore loses every SetProjectCharge write.
type chargeFailingStore struct {
	*memstore.Store
}

func (chargeFailingStore) SetProjectCharge(ctx context.Context, projectID uuid.UUID, credits int, transactionID uuid.UUID) error {
	return errors.New("connection reset")
}

// debitFailingStore errors on every debit before touching the balance.
type debitFailingStore struct {
	*memstore.Store
}

func (debitFailingStore) ApplyDebit(ctx context.Context, req credits.DebitRequest) (credits.DebitResult, error) {
	return credits.DebitResult{}, errors.New("connection reset")
}

// newUser provisions a user holding balance credits on the given tier.
func (h *harness) newUser(t *testing.T, tier models.Tier, balance int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	_, err := h.ledger.EnsureAccount(ctx, userID, "singer@example.com")
	require.NoError(t, err)
	if balance > 0 {
		_, err = h.ledger.Credit(ctx, credits.CreditRequest{UserID: userID, Amount: balance, Kind: models.KindBonus, Description: "test balance"})
		require.NoError(t, err)
	}
	if tier != models.TierFree {
		require.NoError(t, h.store.SetSubscription(ctx, userID, tier, "sub_"+strings.Split(userID.String(), "-")[0]))
	}
	return userID
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func createInput(userID uuid.UUID) services.CreateProjectInput {
	return services.CreateProjectInput{
		UserID:           userID,
		ArtistName:       "Queen",
		SongTitle:        "Bohemian Rhapsody",
		Lyrics:           testLyrics,
		ProcessingType:   models.ProcessingRemoveVocals,
		VideoQuality:     models.Quality720p,
		IncludeLyrics:    true,
		AutoStart:        true,
		NotifyOnComplete: true,
		Audio: services.AudioUpload{
			Filename:    "song.mp3",
			ContentType: "audio/mpeg",
			Data:        []byte("ID3 fake audio"),
		},
	}
}

func callback(projectID uuid.UUID, status runpod.CallbackStatus, results runpod.CallbackResults) runpod.CallbackPayload {
	return runpod.CallbackPayload{ProjectID: projectID.String(), Status: status, Results: results}
}
