package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/payments"
	"karatrack-backend/internal/runpod"
)

// ProjectStore persists projects. TransitionProject changes the status only
// when the current status is one of from, writing patch in the same
// statement, and reports whether a row changed.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error)
	GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID, limit int) ([]models.Project, error)
	TransitionProject(ctx context.Context, projectID uuid.UUID, to models.ProjectStatus, from []models.ProjectStatus, patch models.ProjectPatch) (bool, error)
	SetProjectCharge(ctx context.Context, projectID uuid.UUID, credits int, transactionID uuid.UUID) error
	SetProjectJobID(ctx context.Context, projectID uuid.UUID, jobID string) error
}

// AccountStore holds the billing columns of a profile.
type AccountStore interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) error
	SetSubscription(ctx context.Context, userID uuid.UUID, tier models.Tier, subscriptionID string) error
	// ClearSubscription drops the user to free only if subscriptionID is the
	// subscription currently on file.
	ClearSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (bool, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	SignedURL(ctx context.Context, path string, expiresIn time.Duration, downloadName string) (string, error)
	Delete(ctx context.Context, paths ...string) error
}

type Worker interface {
	Submit(ctx context.Context, input runpod.JobInput) (string, error)
}

type PaymentGateway interface {
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// EmailResolver looks up the address notifications go to. An empty result
// with a nil error means the user has no address on file.
type EmailResolver interface {
	EmailForUser(ctx context.Context, userID uuid.UUID) (string, error)
}
