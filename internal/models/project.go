package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type ProcessingType string

const (
	ProcessingRemoveVocals   ProcessingType = "remove_vocals"
	ProcessingBoth           ProcessingType = "both"
	ProcessingIsolateBacking ProcessingType = "isolate_backing"
)

func (p ProcessingType) Valid() bool {
	switch p {
	case ProcessingRemoveVocals, ProcessingBoth, ProcessingIsolateBacking:
		return true
	}
	return false
}

type VideoQuality string

const (
	Quality480p  VideoQuality = "480p"
	Quality720p  VideoQuality = "720p"
	Quality1080p VideoQuality = "1080p"
	Quality4K    VideoQuality = "4k"
)

// Rank orders qualities from lowest to highest. Unknown values rank -1.
func (q VideoQuality) Rank() int {
	switch q {
	case Quality480p:
		return 0
	case Quality720p:
		return 1
	case Quality1080p:
		return 2
	case Quality4K:
		return 3
	}
	return -1
}

// LyricWord is one word of producer-supplied (or user-edited) timing data.
// Start and End are seconds from the beginning of the track.
type LyricWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type DisplayMode string

const (
	DisplayScroll DisplayMode = "scroll"
	DisplayPage   DisplayMode = "page"
	DisplaySingle DisplayMode = "single_line"
)

const DefaultFont = "DejaVu Sans Bold"

// StyleOptions controls how the worker renders the lyric video.
type StyleOptions struct {
	BackgroundColor string      `json:"background_color,omitempty"`
	TextColor       string      `json:"text_color,omitempty"`
	HighlightColor  string      `json:"highlight_color,omitempty"`
	Font            string      `json:"font,omitempty"`
	DisplayMode     DisplayMode `json:"display_mode,omitempty"`
	ProfanityFilter bool        `json:"profanity_filter"`
}

func (d DisplayMode) Valid() bool {
	switch d {
	case DisplayScroll, DisplayPage, DisplaySingle:
		return true
	}
	return false
}

// WithDefaults fills unset fields with the worker's house style.
func (s StyleOptions) WithDefaults() StyleOptions {
	if s.BackgroundColor == "" {
		s.BackgroundColor = "#0a0a14"
	}
	if s.TextColor == "" {
		s.TextColor = "#ffffff"
	}
	if s.HighlightColor == "" {
		s.HighlightColor = "#00ffff"
	}
	if s.Font == "" {
		s.Font = DefaultFont
	}
	if s.DisplayMode == "" {
		s.DisplayMode = DisplayScroll
	}
	return s
}

type Project struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Title               string
	ArtistName          string
	SongTitle           string
	TrackNumber         string
	Status              ProjectStatus
	ProcessingType      ProcessingType
	VideoQuality        VideoQuality
	IncludeLyrics       bool
	ReviewLyrics        bool
	OriginalAudioPath   string
	ProcessedAudioURL   sql.NullString
	VocalsAudioURL      sql.NullString
	VideoURL            sql.NullString
	ThumbnailURL        sql.NullString
	LyricsText          string
	LyricsTiming        []LyricWord
	Style               StyleOptions
	CreditsCharged      int
	ChargeTransactionID uuid.NullUUID
	JobID               sql.NullString
	ErrorMessage        sql.NullString
	NotifyOnComplete    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt sql.NullTime
	CompletedAt         sql.NullTime
}

// ProjectPatch carries the columns a transition writes alongside the new status.
// Nil fields are left untouched.
type ProjectPatch struct {
	JobID               *string
	ProcessedAudioURL   *string
	VocalsAudioURL      *string
	VideoURL            *string
	ThumbnailURL        *string
	LyricsTiming        []LyricWord
	ErrorMessage        *string
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
}
