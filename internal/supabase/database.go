package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/models"
)

type DatabaseClient struct {
	db      *sql.DB
	timeout time.Duration
}

// NewDatabaseClient opens the pool. Every query runs under timeout when it
// is positive.
func NewDatabaseClient(connectionString string, timeout time.Duration) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewDatabaseClientFromDB(db, timeout), nil
}

// NewDatabaseClientFromDB wraps an already opened pool.
func NewDatabaseClientFromDB(db *sql.DB, timeout time.Duration) *DatabaseClient {
	return &DatabaseClient{db: db, timeout: timeout}
}

func (d *DatabaseClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// DB exposes the pool for the migrator.
func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

const userColumns = `id, email, subscription_tier, credits_remaining, credits_used_this_period,
	stripe_customer_id, stripe_subscription_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Tier, &u.CreditsRemaining, &u.CreditsUsedThisPeriod,
		&u.StripeCustomerID, &u.StripeSubscriptionID, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return &u, nil
}

func (d *DatabaseClient) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return scanUser(d.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM profiles
		WHERE id = $1
	`, userID))
}

func (d *DatabaseClient) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return scanUser(d.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM profiles
		WHERE stripe_customer_id = $1
	`, customerID))
}

// EmailForUser reads the address recorded on the profile. A profile without
// one yields "".
func (d *DatabaseClient) EmailForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	var email sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT email FROM profiles WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load profile email: %w", err)
	}
	return email.String, nil
}

// CreateUserWithGrant inserts the profile and its starting-grant transaction
// in one transaction. An existing profile is returned untouched.
func (d *DatabaseClient) CreateUserWithGrant(ctx context.Context, userID uuid.UUID, email string, grant int, description string) (*models.User, bool, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, subscription_tier, credits_remaining)
		VALUES ($1, NULLIF($2, ''), 'free', $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns, userID, email, grant))
	if errors.Is(err, models.ErrUserNotFound) {
		// Lost the insert race; the other request created it.
		existing, err := d.GetUser(ctx, userID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	if grant > 0 {
		if _, err := insertTransaction(ctx, tx, models.CreditTransaction{
			UserID:       userID,
			Amount:       grant,
			BalanceAfter: grant,
			Kind:         models.KindBonus,
			Description:  description,
		}); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit profile: %w", err)
	}
	return user, true, nil
}

// ApplyDebit locks the profile row, checks the balance and writes the usage
// transaction before releasing the lock.
func (d *DatabaseClient) ApplyDebit(ctx context.Context, req credits.DebitRequest) (credits.DebitResult, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return credits.DebitResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `
		SELECT credits_remaining
		FROM profiles
		WHERE id = $1
		FOR UPDATE
	`, req.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return credits.DebitResult{}, models.ErrUserNotFound
	}
	if err != nil {
		return credits.DebitResult{}, fmt.Errorf("failed to lock profile: %w", err)
	}

	if balance < req.Amount {
		return credits.DebitResult{Balance: balance, Shortfall: req.Amount - balance}, nil
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE profiles
		SET credits_remaining = credits_remaining - $2,
			credits_used_this_period = credits_used_this_period + $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING credits_remaining
	`, req.UserID, req.Amount).Scan(&balance)
	if err != nil {
		return credits.DebitResult{}, fmt.Errorf("failed to debit profile: %w", err)
	}

	txID, err := insertTransaction(ctx, tx, models.CreditTransaction{
		UserID:       req.UserID,
		Amount:       -req.Amount,
		BalanceAfter: balance,
		Kind:         models.KindUsage,
		Description:  req.Description,
		ProjectID:    req.ProjectID,
	})
	if err != nil {
		return credits.DebitResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return credits.DebitResult{}, fmt.Errorf("failed to commit debit: %w", err)
	}
	return credits.DebitResult{Applied: true, Balance: balance, TransactionID: txID}, nil
}

func (d *DatabaseClient) ApplyCredit(ctx context.Context, req credits.CreditRequest) (credits.CreditResult, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return credits.CreditResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `
		SELECT credits_remaining
		FROM profiles
		WHERE id = $1
		FOR UPDATE
	`, req.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return credits.CreditResult{}, models.ErrUserNotFound
	}
	if err != nil {
		return credits.CreditResult{}, fmt.Errorf("failed to lock profile: %w", err)
	}

	if req.ExternalRef != "" {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM credit_transactions
				WHERE kind = $1 AND external_ref = $2
			)
		`, req.Kind, req.ExternalRef).Scan(&exists)
		if err != nil {
			return credits.CreditResult{}, fmt.Errorf("failed to check external ref: %w", err)
		}
		if exists {
			return credits.CreditResult{Duplicate: true, Balance: balance}, nil
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE profiles
		SET credits_remaining = credits_remaining + $2,
			credits_used_this_period = CASE WHEN $3 THEN 0 ELSE credits_used_this_period END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING credits_remaining
	`, req.UserID, req.Amount, req.ResetPeriodUsage).Scan(&balance)
	if err != nil {
		return credits.CreditResult{}, fmt.Errorf("failed to credit profile: %w", err)
	}

	txID, err := insertTransaction(ctx, tx, models.CreditTransaction{
		UserID:       req.UserID,
		Amount:       req.Amount,
		BalanceAfter: balance,
		Kind:         req.Kind,
		Description:  req.Description,
		ProjectID:    req.ProjectID,
		ExternalRef:  sql.NullString{String: req.ExternalRef, Valid: req.ExternalRef != ""},
	})
	if err != nil {
		return credits.CreditResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return credits.CreditResult{}, fmt.Errorf("failed to commit credit: %w", err)
	}
	return credits.CreditResult{Applied: true, Balance: balance, TransactionID: txID}, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t models.CreditTransaction) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, balance_after, kind, description, project_id, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, t.UserID, t.Amount, t.BalanceAfter, t.Kind, t.Description, t.ProjectID, t.ExternalRef)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return id, nil
}

func (d *DatabaseClient) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, amount, balance_after, kind, description, project_id, external_ref, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter, &t.Kind,
			&t.Description, &t.ProjectID, &t.ExternalRef, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (d *DatabaseClient) SetStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return d.execOne(ctx, `
		UPDATE profiles
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, customerID)
}

func (d *DatabaseClient) SetSubscription(ctx context.Context, userID uuid.UUID, tier models.Tier, subscriptionID string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return d.execOne(ctx, `
		UPDATE profiles
		SET subscription_tier = $2, stripe_subscription_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`, userID, tier, subscriptionID)
}

func (d *DatabaseClient) ClearSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (bool, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE profiles
		SET subscription_tier = 'free', stripe_subscription_id = NULL, updated_at = NOW()
		WHERE id = $1 AND stripe_subscription_id = $2
	`, userID, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to clear subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DatabaseClient) execOne(ctx context.Context, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

const projectColumns = `id, user_id, title, artist_name, song_title, track_number, status,
	processing_type, video_quality, include_lyrics, review_lyrics, original_audio_path,
	processed_audio_url, vocals_audio_url, video_url, thumbnail_url, lyrics_text,
	lyrics_timing, style, credits_charged, charge_transaction_id, job_id, error_message,
	notify_on_complete, created_at, updated_at, processing_started_at, completed_at`

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var timing, style []byte
	err := row.Scan(
		&p.ID, &p.UserID, &p.Title, &p.ArtistName, &p.SongTitle, &p.TrackNumber, &p.Status,
		&p.ProcessingType, &p.VideoQuality, &p.IncludeLyrics, &p.ReviewLyrics, &p.OriginalAudioPath,
		&p.ProcessedAudioURL, &p.VocalsAudioURL, &p.VideoURL, &p.ThumbnailURL, &p.LyricsText,
		&timing, &style, &p.CreditsCharged, &p.ChargeTransactionID, &p.JobID, &p.ErrorMessage,
		&p.NotifyOnComplete, &p.CreatedAt, &p.UpdatedAt, &p.ProcessingStartedAt, &p.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if len(timing) > 0 {
		if err := json.Unmarshal(timing, &p.LyricsTiming); err != nil {
			return nil, fmt.Errorf("failed to decode lyrics timing: %w", err)
		}
	}
	if len(style) > 0 {
		if err := json.Unmarshal(style, &p.Style); err != nil {
			return nil, fmt.Errorf("failed to decode style: %w", err)
		}
	}
	return &p, nil
}

func (d *DatabaseClient) CreateProject(ctx context.Context, p *models.Project) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.StatusQueued
	}
	style, err := json.Marshal(p.Style)
	if err != nil {
		return fmt.Errorf("failed to encode style: %w", err)
	}

	err = d.db.QueryRowContext(ctx, `
		INSERT INTO projects (
			id, user_id, title, artist_name, song_title, track_number, status,
			processing_type, video_quality, include_lyrics, review_lyrics,
			original_audio_path, lyrics_text, style, notify_on_complete
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.Title, p.ArtistName, p.SongTitle, p.TrackNumber, p.Status,
		p.ProcessingType, p.VideoQuality, p.IncludeLyrics, p.ReviewLyrics,
		p.OriginalAudioPath, p.LyricsText, style, p.NotifyOnComplete,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return scanProject(d.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND user_id = $2
	`, projectID, userID))
}

// GetProjectByID skips the ownership check; worker callbacks use it.
func (d *DatabaseClient) GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	return scanProject(d.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1
	`, projectID))
}

func (d *DatabaseClient) ListProjects(ctx context.Context, userID uuid.UUID, limit int) ([]models.Project, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// TransitionProject is a compare-and-set on status: the row changes only if
// its current status is in from.
func (d *DatabaseClient) TransitionProject(ctx context.Context, projectID uuid.UUID, to models.ProjectStatus, from []models.ProjectStatus, patch models.ProjectPatch) (bool, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	// A nil []byte reaches lib/pq as '' rather than NULL, so the absent
	// case must be an untyped nil.
	var timing any
	if patch.LyricsTiming != nil {
		b, err := json.Marshal(patch.LyricsTiming)
		if err != nil {
			return false, fmt.Errorf("failed to encode lyrics timing: %w", err)
		}
		timing = string(b)
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE projects
		SET status = $2,
			job_id = COALESCE($4::text, job_id),
			processed_audio_url = COALESCE($5::text, processed_audio_url),
			vocals_audio_url = COALESCE($6::text, vocals_audio_url),
			video_url = COALESCE($7::text, video_url),
			thumbnail_url = COALESCE($8::text, thumbnail_url),
			lyrics_timing = COALESCE($9::jsonb, lyrics_timing),
			error_message = COALESCE($10::text, error_message),
			processing_started_at = COALESCE($11::timestamptz, processing_started_at),
			completed_at = COALESCE($12::timestamptz, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3::text[])
	`, projectID, to, pq.Array(fromStatuses),
		patch.JobID, patch.ProcessedAudioURL, patch.VocalsAudioURL, patch.VideoURL, patch.ThumbnailURL,
		timing, patch.ErrorMessage, patch.ProcessingStartedAt, patch.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := d.GetProjectByID(ctx, projectID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (d *DatabaseClient) SetProjectCharge(ctx context.Context, projectID uuid.UUID, credits int, transactionID uuid.UUID) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		UPDATE projects
		SET credits_charged = $2, charge_transaction_id = $3, updated_at = NOW()
		WHERE id = $1
	`, projectID, credits, transactionID)
	if err != nil {
		return fmt.Errorf("failed to record project charge: %w", err)
	}
	return nil
}

func (d *DatabaseClient) SetProjectJobID(ctx context.Context, projectID uuid.UUID, jobID string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		UPDATE projects
		SET job_id = $2, updated_at = NOW()
		WHERE id = $1
	`, projectID, jobID)
	if err != nil {
		return fmt.Errorf("failed to record job id: %w", err)
	}
	return nil
}
