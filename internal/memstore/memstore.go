// Package memstore keeps profiles, the credit ledger and projects in process
// memory. It backs the tests and the development server when no database is
// configured. Every ledger mutation runs under one mutex.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/models"
)

type Store struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*models.User
	transactions map[uuid.UUID][]models.CreditTransaction
	projects     map[uuid.UUID]*models.Project
	now          func() time.Time
}

func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*models.User),
		transactions: make(map[uuid.UUID][]models.CreditTransaction),
		projects:     make(map[uuid.UUID]*models.Project),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUserWithGrant(ctx context.Context, userID uuid.UUID, email string, grant int, description string) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		cp := *u
		return &cp, false, nil
	}

	now := s.now()
	u := &models.User{
		ID:        userID,
		Email:     sql.NullString{String: email, Valid: email != ""},
		Tier:      models.TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[userID] = u
	if grant > 0 {
		u.CreditsRemaining = grant
		s.appendTx(models.CreditTransaction{
			UserID:       userID,
			Amount:       grant,
			BalanceAfter: grant,
			Kind:         models.KindBonus,
			Description:  description,
		})
	}
	cp := *u
	return &cp, true, nil
}

func (s *Store) ApplyDebit(ctx context.Context, req credits.DebitRequest) (credits.DebitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.UserID]
	if !ok {
		return credits.DebitResult{}, models.ErrUserNotFound
	}
	if u.CreditsRemaining < req.Amount {
		return credits.DebitResult{
			Balance:   u.CreditsRemaining,
			Shortfall: req.Amount - u.CreditsRemaining,
		}, nil
	}

	u.CreditsRemaining -= req.Amount
	u.CreditsUsedThisPeriod += req.Amount
	u.UpdatedAt = s.now()
	tx := s.appendTx(models.CreditTransaction{
		UserID:       req.UserID,
		Amount:       -req.Amount,
		BalanceAfter: u.CreditsRemaining,
		Kind:         models.KindUsage,
		Description:  req.Description,
		ProjectID:    req.ProjectID,
	})
	return credits.DebitResult{Applied: true, Balance: u.CreditsRemaining, TransactionID: tx.ID}, nil
}

func (s *Store) ApplyCredit(ctx context.Context, req credits.CreditRequest) (credits.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.UserID]
	if !ok {
		return credits.CreditResult{}, models.ErrUserNotFound
	}
	if req.ExternalRef != "" && s.hasExternalRef(req.Kind, req.ExternalRef) {
		return credits.CreditResult{Duplicate: true, Balance: u.CreditsRemaining}, nil
	}

	u.CreditsRemaining += req.Amount
	if req.ResetPeriodUsage {
		u.CreditsUsedThisPeriod = 0
	}
	u.UpdatedAt = s.now()
	tx := s.appendTx(models.CreditTransaction{
		UserID:       req.UserID,
		Amount:       req.Amount,
		BalanceAfter: u.CreditsRemaining,
		Kind:         req.Kind,
		Description:  req.Description,
		ProjectID:    req.ProjectID,
		ExternalRef:  sql.NullString{String: req.ExternalRef, Valid: req.ExternalRef != ""},
	})
	return credits.CreditResult{Applied: true, Balance: u.CreditsRemaining, TransactionID: tx.ID}, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := s.transactions[userID]
	out := make([]models.CreditTransaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, txs[i])
	}
	return out, nil
}

// appendTx must be called with mu held.
func (s *Store) appendTx(tx models.CreditTransaction) models.CreditTransaction {
	tx.ID = uuid.New()
	tx.CreatedAt = s.now()
	s.transactions[tx.UserID] = append(s.transactions[tx.UserID], tx)
	return tx
}

func (s *Store) hasExternalRef(kind models.TransactionKind, ref string) bool {
	for _, txs := range s.transactions {
		for _, tx := range txs {
			if tx.Kind == kind && tx.ExternalRef.Valid && tx.ExternalRef.String == ref {
				return true
			}
		}
	}
	return false
}

func (s *Store) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.StripeCustomerID.Valid && u.StripeCustomerID.String == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (s *Store) SetStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	return s.updateUser(userID, func(u *models.User) {
		u.StripeCustomerID = sql.NullString{String: customerID, Valid: customerID != ""}
	})
}

func (s *Store) SetSubscription(ctx context.Context, userID uuid.UUID, tier models.Tier, subscriptionID string) error {
	return s.updateUser(userID, func(u *models.User) {
		u.Tier = tier
		u.StripeSubscriptionID = sql.NullString{String: subscriptionID, Valid: subscriptionID != ""}
	})
}

func (s *Store) ClearSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, models.ErrUserNotFound
	}
	if !u.StripeSubscriptionID.Valid || u.StripeSubscriptionID.String != subscriptionID {
		return false, nil
	}
	u.Tier = models.TierFree
	u.StripeSubscriptionID = sql.NullString{}
	u.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) updateUser(userID uuid.UUID, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = s.now()
	return nil
}

// EmailForUser returns "" for unknown users or profiles without an address.
func (s *Store) EmailForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || !u.Email.Valid {
		return "", nil
	}
	return u.Email.String, nil
}

func (s *Store) CreateProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.Status == "" {
		project.Status = models.StatusQueued
	}
	project.CreatedAt = now
	project.UpdatedAt = now
	cp := copyProject(project)
	s.projects[project.ID] = cp
	return nil
}

func (s *Store) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, models.ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (s *Store) GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, models.ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (s *Store) ListProjects(ctx context.Context, userID uuid.UUID, limit int) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, *copyProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionProject(ctx context.Context, projectID uuid.UUID, to models.ProjectStatus, from []models.ProjectStatus, patch models.ProjectPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return false, models.ErrProjectNotFound
	}
	allowed := false
	for _, st := range from {
		if p.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	p.Status = to
	applyPatch(p, patch)
	p.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SetProjectCharge(ctx context.Context, projectID uuid.UUID, credits int, transactionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return models.ErrProjectNotFound
	}
	p.CreditsCharged = credits
	p.ChargeTransactionID = uuid.NullUUID{UUID: transactionID, Valid: true}
	p.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetProjectJobID(ctx context.Context, projectID uuid.UUID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return models.ErrProjectNotFound
	}
	p.JobID = sql.NullString{String: jobID, Valid: jobID != ""}
	p.UpdatedAt = s.now()
	return nil
}

func applyPatch(p *models.Project, patch models.ProjectPatch) {
	if patch.JobID != nil {
		p.JobID = sql.NullString{String: *patch.JobID, Valid: true}
	}
	if patch.ProcessedAudioURL != nil {
		p.ProcessedAudioURL = sql.NullString{String: *patch.ProcessedAudioURL, Valid: true}
	}
	if patch.VocalsAudioURL != nil {
		p.VocalsAudioURL = sql.NullString{String: *patch.VocalsAudioURL, Valid: true}
	}
	if patch.VideoURL != nil {
		p.VideoURL = sql.NullString{String: *patch.VideoURL, Valid: true}
	}
	if patch.ThumbnailURL != nil {
		p.ThumbnailURL = sql.NullString{String: *patch.ThumbnailURL, Valid: true}
	}
	if patch.LyricsTiming != nil {
		p.LyricsTiming = append([]models.LyricWord(nil), patch.LyricsTiming...)
	}
	if patch.ErrorMessage != nil {
		p.ErrorMessage = sql.NullString{String: *patch.ErrorMessage, Valid: true}
	}
	if patch.ProcessingStartedAt != nil {
		p.ProcessingStartedAt = sql.NullTime{Time: *patch.ProcessingStartedAt, Valid: true}
	}
	if patch.CompletedAt != nil {
		p.CompletedAt = sql.NullTime{Time: *patch.CompletedAt, Valid: true}
	}
}

func copyProject(p *models.Project) *models.Project {
	cp := *p
	if p.LyricsTiming != nil {
		cp.LyricsTiming = append([]models.LyricWord(nil), p.LyricsTiming...)
	}
	return &cp
}
