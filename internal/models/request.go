package models

// CreateProjectRequest is bound from the multipart form of POST /projects.
// The audio itself travels in the "audio" file field.
type CreateProjectRequest struct {
	Title          string `form:"title"`
	ArtistName     string `form:"artist_name"`
	SongTitle      string `form:"song_title"`
	TrackNumber    string `form:"track_number"`
	Lyrics         string `form:"lyrics"`
	ProcessingType string `form:"processing_type"`
	VideoQuality   string `form:"video_quality"`
	// Pointers distinguish "absent" from "false" so the defaults can apply.
	IncludeLyrics    *bool `form:"include_lyrics"`
	ReviewLyrics     bool  `form:"review_lyrics"`
	AutoStart        *bool `form:"auto_start"`
	NotifyOnComplete *bool `form:"notify_on_complete"`

	BackgroundColor string `form:"background_color"`
	TextColor       string `form:"text_color"`
	HighlightColor  string `form:"highlight_color"`
	Font            string `form:"font"`
	DisplayMode     string `form:"display_mode"`
	ProfanityFilter bool   `form:"profanity_filter"`
}

// RenderRequest carries the user-edited lyric timing for the second stage.
type RenderRequest struct {
	Lyrics []LyricWord `json:"lyrics" binding:"required"`
}

type QuoteRequest struct {
	ProcessingType string `json:"processing_type" example:"remove_vocals"`
	VideoQuality   string `json:"video_quality" example:"1080p"`
	IncludeLyrics  *bool  `json:"include_lyrics,omitempty"`
	ReviewLyrics   bool   `json:"review_lyrics"`
}

// CheckoutRequest starts either a subscription checkout (Tier) or a one-time
// credit purchase (PackageID). Exactly one must be set.
type CheckoutRequest struct {
	Tier      string `json:"tier,omitempty" example:"pro"`
	PackageID string `json:"package_id,omitempty" example:"medium"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type InsufficientCreditsResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	CreditsNeeded    int    `json:"credits_needed"`
	CreditsAvailable int    `json:"credits_available"`
	Shortfall        int    `json:"shortfall"`
}
