package models

import "time"

type ProjectResponse struct {
	ID                  string        `json:"project_id"`
	Title               string        `json:"title"`
	ArtistName          string        `json:"artist_name"`
	SongTitle           string        `json:"song_title"`
	TrackNumber         string        `json:"track_number,omitempty"`
	Status              ProjectStatus `json:"status"`
	ProcessingType      string        `json:"processing_type"`
	VideoQuality        string        `json:"video_quality"`
	IncludeLyrics       bool          `json:"include_lyrics"`
	ReviewLyrics        bool          `json:"review_lyrics"`
	Style               StyleOptions  `json:"style"`
	CreditsCharged      int           `json:"credits_charged"`
	JobID               string        `json:"job_id,omitempty"`
	HasVideo            bool          `json:"has_video"`
	HasInstrumental     bool          `json:"has_instrumental"`
	HasVocals           bool          `json:"has_vocals"`
	ThumbnailURL        string        `json:"thumbnail_url,omitempty"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	NotifyOnComplete    bool          `json:"notify_on_complete"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	ProcessingStartedAt *time.Time    `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
}

type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

type ProjectSummary struct {
	ID         string        `json:"project_id"`
	Title      string        `json:"title"`
	ArtistName string        `json:"artist_name"`
	Status     ProjectStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type LyricsResponse struct {
	ProjectID string        `json:"project_id"`
	Status    ProjectStatus `json:"status"`
	Text      string        `json:"text"`
	Lyrics    []LyricWord   `json:"lyrics"`
}

type StatusResponse struct {
	ProjectID string        `json:"project_id"`
	Status    ProjectStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type DownloadResponse struct {
	ProjectID string            `json:"project_id"`
	URLs      map[string]string `json:"urls"`
	ExpiresIn int               `json:"expires_in"`
}

type MeResponse struct {
	ID                    string `json:"id"`
	Email                 string `json:"email,omitempty"`
	Tier                  Tier   `json:"subscription_tier"`
	CreditsRemaining      int    `json:"credits_remaining"`
	CreditsUsedThisPeriod int    `json:"credits_used_this_period"`
	HasSubscription       bool   `json:"has_subscription"`
	CanEditLyrics         bool   `json:"can_edit_lyrics"`
	MaxQuality            string `json:"max_quality"`
}

type TransactionResponse struct {
	ID           string          `json:"id"`
	Amount       int             `json:"amount"`
	BalanceAfter int             `json:"balance_after"`
	Kind         TransactionKind `json:"kind"`
	Description  string          `json:"description"`
	ProjectID    string          `json:"project_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CreditsResponse struct {
	CreditsRemaining int                   `json:"credits_remaining"`
	Transactions     []TransactionResponse `json:"transactions"`
}

type QuoteResponse struct {
	Credits          int  `json:"credits"`
	CreditsAvailable int  `json:"credits_available"`
	Affordable       bool `json:"affordable"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
