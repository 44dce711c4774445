package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/runpod"
)

// workerAudioTTL bounds the signed source-audio link handed to the worker.
// Jobs can sit in the worker queue for a while before they start.
const workerAudioTTL = 24 * time.Hour

type ProjectConfig struct {
	BaseURL         string
	CallbackSecret  string
	MinLyricsLength int
	SignedURLTTL    time.Duration
}

type ProjectService struct {
	projects ProjectStore
	ledger   *credits.Ledger
	catalog  *credits.Catalog
	objects  ObjectStore
	worker   Worker
	notifier *Notifier
	cfg      ProjectConfig
	now      func() time.Time
}

func NewProjectService(
	projects ProjectStore,
	ledger *credits.Ledger,
	catalog *credits.Catalog,
	objects ObjectStore,
	worker Worker,
	notifier *Notifier,
	cfg ProjectConfig,
) *ProjectService {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	return &ProjectService{
		projects: projects,
		ledger:   ledger,
		catalog:  catalog,
		objects:  objects,
		worker:   worker,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type AudioUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CreateProjectInput struct {
	UserID           uuid.UUID
	Title            string
	ArtistName       string
	SongTitle        string
	TrackNumber      string
	Lyrics           string
	ProcessingType   models.ProcessingType
	VideoQuality     models.VideoQuality
	IncludeLyrics    bool
	ReviewLyrics     bool
	AutoStart        bool
	NotifyOnComplete bool
	Style            models.StyleOptions
	Audio            AudioUpload
}

func (s *ProjectService) validateCreate(in *CreateProjectInput) error {
	if len(in.Audio.Data) == 0 {
		return invalid("audio", "audio file is required")
	}
	in.ArtistName = strings.TrimSpace(in.ArtistName)
	in.SongTitle = strings.TrimSpace(in.SongTitle)
	in.Title = strings.TrimSpace(in.Title)
	if in.ArtistName == "" {
		return invalid("artist_name", "artist name is required")
	}
	if in.SongTitle == "" {
		return invalid("song_title", "song title is required")
	}
	if in.Title == "" {
		in.Title = in.ArtistName + " - " + in.SongTitle
	}

	in.Lyrics = strings.TrimSpace(in.Lyrics)
	if n := utf8.RuneCountInString(in.Lyrics); n < s.cfg.MinLyricsLength {
		return invalid("lyrics", "lyrics must be at least %d characters (got %d)", s.cfg.MinLyricsLength, n)
	}

	if in.ProcessingType == "" {
		in.ProcessingType = models.ProcessingRemoveVocals
	}
	if !in.ProcessingType.Valid() {
		return invalid("processing_type", "unknown processing type %q", in.ProcessingType)
	}
	if in.VideoQuality == "" {
		in.VideoQuality = models.Quality720p
	}
	if in.VideoQuality.Rank() < 0 {
		return invalid("video_quality", "unknown video quality %q", in.VideoQuality)
	}
	if in.Style.DisplayMode != "" && !in.Style.DisplayMode.Valid() {
		return invalid("display_mode", "unknown display mode %q", in.Style.DisplayMode)
	}
	if in.ReviewLyrics && !in.IncludeLyrics {
		return invalid("review_lyrics", "lyric review requires include_lyrics")
	}
	in.Style = in.Style.WithDefaults()
	return nil
}

// Quote prices a job for the user and reports whether the balance covers it.
func (s *ProjectService) Quote(ctx context.Context, userID uuid.UUID, opts credits.CostOptions) (int, int, error) {
	cost, err := credits.CalculateCost(opts)
	if err != nil {
		return 0, 0, &ValidationError{Message: err.Error()}
	}
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return cost, balance, nil
}

// CreateProject uploads the audio, records the project as queued, takes the
// charge and, unless AutoStart is off, dispatches the first job.
func (s *ProjectService) CreateProject(ctx context.Context, in CreateProjectInput) (*models.Project, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}

	user, err := s.ledger.Account(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	plan := s.catalog.PlanByTier(user.Tier)
	if !plan.AllowsQuality(in.VideoQuality) {
		return nil, fmt.Errorf("%w: %s is limited to %s", ErrFeatureNotAvailable, plan.Name, plan.MaxQuality)
	}
	if in.ReviewLyrics && !plan.LyricEditing {
		return nil, fmt.Errorf("%w: lyric review requires a plan with lyric editing", ErrFeatureNotAvailable)
	}

	cost, err := credits.CalculateCost(credits.CostOptions{
		ProcessingType: in.ProcessingType,
		VideoQuality:   in.VideoQuality,
		IncludeLyrics:  in.IncludeLyrics,
		ReviewLyrics:   in.ReviewLyrics,
	})
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if user.CreditsRemaining < cost {
		return nil, &InsufficientCreditsError{
			Needed:    cost,
			Available: user.CreditsRemaining,
			Shortfall: cost - user.CreditsRemaining,
		}
	}

	projectID := uuid.New()
	audioPath := fmt.Sprintf("users/%s/projects/%s/original%s", in.UserID, projectID, audioExt(in.Audio.Filename))
	if err := s.objects.Upload(ctx, audioPath, in.Audio.ContentType, in.Audio.Data); err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	project := &models.Project{
		ID:                projectID,
		UserID:            in.UserID,
		Title:             in.Title,
		ArtistName:        in.ArtistName,
		SongTitle:         in.SongTitle,
		TrackNumber:       strings.TrimSpace(in.TrackNumber),
		Status:            models.StatusQueued,
		ProcessingType:    in.ProcessingType,
		VideoQuality:      in.VideoQuality,
		IncludeLyrics:     in.IncludeLyrics,
		ReviewLyrics:      in.ReviewLyrics,
		OriginalAudioPath: audioPath,
		LyricsText:        in.Lyrics,
		Style:             in.Style,
		NotifyOnComplete:  in.NotifyOnComplete,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		s.discardUpload(ctx, audioPath)
		return nil, fmt.Errorf("create project: %w", err)
	}

	debit, err := s.ledger.Debit(ctx, credits.DebitRequest{
		UserID:      in.UserID,
		Amount:      cost,
		ProjectID:   uuid.NullUUID{UUID: projectID, Valid: true},
		Description: "Processing: " + in.Title,
	})
	if err != nil {
		s.failProject(ctx, project, "Could not charge credits")
		s.discardUpload(ctx, audioPath)
		return nil, err
	}
	if !debit.Applied {
		// Another request spent the balance between the precheck and the debit.
		s.failProject(ctx, project, "Insufficient credits")
		s.discardUpload(ctx, audioPath)
		return nil, &InsufficientCreditsError{
			Needed:    cost,
			Available: debit.Balance,
			Shortfall: debit.Shortfall,
		}
	}
	if err := s.projects.SetProjectCharge(ctx, projectID, cost, debit.TransactionID); err != nil {
		// The project cannot be refunded later without a recorded charge.
		s.failProject(ctx, project, "Could not record charge")
		s.refund(ctx, project, cost, "charge:"+debit.TransactionID.String(), "Refund: charge could not be recorded")
		return nil, fmt.Errorf("record charge: %w", err)
	}
	project.CreditsCharged = cost
	project.ChargeTransactionID = uuid.NullUUID{UUID: debit.TransactionID, Valid: true}

	log.Info().
		Str("project_id", projectID.String()).
		Str("user_id", in.UserID.String()).
		Int("credits", cost).
		Bool("review_lyrics", in.ReviewLyrics).
		Msg("Project created")

	if !in.AutoStart {
		return project, nil
	}

	mode := runpod.ModeFull
	if in.ReviewLyrics {
		mode = runpod.ModeTranscribe
	}
	return s.start(ctx, project, user.Tier, mode)
}

// StartProcessing dispatches a queued project down the one-stage path. A
// project that paid for lyric review goes through transcription instead.
func (s *ProjectService) StartProcessing(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.StatusQueued {
		return nil, ErrInvalidTransition
	}
	if project.ReviewLyrics {
		return s.StartTranscription(ctx, userID, projectID)
	}
	user, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return s.start(ctx, project, user.Tier, runpod.ModeFull)
}

// StartTranscription dispatches a queued project down the two-stage path.
// A project created without review pays the review surcharge here.
func (s *ProjectService) StartTranscription(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	project, err := s.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.StatusQueued {
		return nil, ErrInvalidTransition
	}
	if !project.IncludeLyrics {
		return nil, invalid("include_lyrics", "project was created without lyrics")
	}
	user, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !s.catalog.PlanByTier(user.Tier).LyricEditing {
		return nil, fmt.Errorf("%w: lyric review requires a plan with lyric editing", ErrFeatureNotAvailable)
	}

	var surcharge int
	var surchargeTx uuid.UUID
	if !project.ReviewLyrics {
		total, err := credits.CalculateCost(credits.CostOptions{
			ProcessingType: project.ProcessingType,
			VideoQuality:   project.VideoQuality,
			IncludeLyrics:  project.IncludeLyrics,
			ReviewLyrics:   true,
		})
		if err != nil {
			return nil, err
		}
		surcharge = total - project.CreditsCharged
	}
	if surcharge > 0 {
		debit, err := s.ledger.Debit(ctx, credits.DebitRequest{
			UserID:      userID,
			Amount:      surcharge,
			ProjectID:   uuid.NullUUID{UUID: projectID, Valid: true},
			Description: "Lyric review: " + project.Title,
		})
		if err != nil {
			return nil, err
		}
		if !debit.Applied {
			return nil, &InsufficientCreditsError{Needed: surcharge, Available: debit.Balance, Shortfall: debit.Shortfall}
		}
		surchargeTx = debit.TransactionID
		project.CreditsCharged += surcharge
		if err := s.projects.SetProjectCharge(ctx, projectID, project.CreditsCharged, surchargeTx); err != nil {
			return nil, fmt.Errorf("record charge: %w", err)
		}
	}

	started, err := s.start(ctx, project, user.Tier, runpod.ModeTranscribe)
	if errors.Is(err, ErrInvalidTransition) && surcharge > 0 {
		// Lost the race to another start request; hand the surcharge back.
		s.refund(ctx, project, surcharge, "review:"+surchargeTx.String(), "Lyric review not started")
	}
	return started, err
}

// start moves a queued project to processing or transcribing and submits the
// job. The status is written before the submit so that a fast callback finds
// the project in its running state.
func (s *ProjectService) start(ctx context.Context, project *models.Project, tier models.Tier, mode runpod.Mode) (*models.Project, error) {
	to := models.StatusProcessing
	if mode == runpod.ModeTranscribe {
		to = models.StatusTranscribing
	}

	now := s.now()
	ok, err := s.transition(ctx, project, to, []models.ProjectStatus{models.StatusQueued}, models.ProjectPatch{
		ProcessingStartedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	project.Status = to

	input, err := s.jobInput(ctx, project, tier, mode)
	if err == nil {
		var jobID string
		jobID, err = s.worker.Submit(ctx, input)
		if err == nil {
			if err := s.projects.SetProjectJobID(ctx, project.ID, jobID); err != nil {
				log.Error().Err(err).Str("project_id", project.ID.String()).Str("job_id", jobID).Msg("Failed to record job id")
			}
			log.Info().
				Str("project_id", project.ID.String()).
				Str("job_id", jobID).
				Str("mode", string(mode)).
				Msg("Job dispatched")
			return s.projects.GetProjectByID(ctx, project.ID)
		}
	}

	log.Error().Err(err).Str("project_id", project.ID.String()).Str("mode", string(mode)).Msg("Failed to dispatch job")
	if s.failProject(ctx, project, "Failed to start processing") {
		// The job never ran, so the charge goes back.
		s.refund(ctx, project, project.CreditsCharged, "dispatch:"+project.ID.String(), "Refund: processing could not start")
	}
	return nil, fmt.Errorf("dispatch project %s: %w", project.ID, err)
}

// SubmitRender stores the reviewed lyric timing and dispatches the
// render-only job. A dispatch failure here fails the project without a refund.
func (s *ProjectService) SubmitRender(ctx context.Context, userID, projectID uuid.UUID, lyrics []models.LyricWord) (*models.Project, error) {
	if err := validateTiming(lyrics); err != nil {
		return nil, err
	}
	project, err := s.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.StatusAwaitingReview {
		return nil, ErrInvalidTransition
	}
	user, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	ok, err := s.transition(ctx, project, models.StatusRendering, models.Predecessors(models.StatusRendering), models.ProjectPatch{
		LyricsTiming: lyrics,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	project.Status = models.StatusRendering
	project.LyricsTiming = lyrics

	input, err := s.jobInput(ctx, project, user.Tier, runpod.ModeRender)
	if err == nil {
		var jobID string
		jobID, err = s.worker.Submit(ctx, input)
		if err == nil {
			if err := s.projects.SetProjectJobID(ctx, project.ID, jobID); err != nil {
				log.Error().Err(err).Str("project_id", project.ID.String()).Str("job_id", jobID).Msg("Failed to record job id")
			}
			log.Info().Str("project_id", project.ID.String()).Str("job_id", jobID).Msg("Render dispatched")
			return s.projects.GetProjectByID(ctx, project.ID)
		}
	}

	log.Error().Err(err).Str("project_id", project.ID.String()).Msg("Failed to dispatch render")
	s.failProject(ctx, project, "Failed to start rendering")
	return nil, fmt.Errorf("dispatch render %s: %w", project.ID, err)
}

// HandleCallback applies a worker report. A report that does not fit the
// project's current status is ignored and reported as not applied.
func (s *ProjectService) HandleCallback(ctx context.Context, payload runpod.CallbackPayload) (bool, error) {
	projectID, err := uuid.Parse(payload.ProjectID)
	if err != nil {
		return false, invalid("project_id", "invalid project id")
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return false, err
	}

	res := payload.Results
	now := s.now()

	switch payload.Status {
	case runpod.CallbackTranscribed:
		patch := models.ProjectPatch{
			ProcessedAudioURL: optional(res.ProcessedAudioURL),
			VocalsAudioURL:    optional(res.VocalsAudioURL),
			ThumbnailURL:      optional(res.ThumbnailURL),
			LyricsTiming:      res.Lyrics,
		}
		return s.transition(ctx, project, models.StatusAwaitingReview, models.Predecessors(models.StatusAwaitingReview), patch)

	case runpod.CallbackCompleted:
		patch := models.ProjectPatch{
			ProcessedAudioURL: optional(res.ProcessedAudioURL),
			VocalsAudioURL:    optional(res.VocalsAudioURL),
			VideoURL:          optional(res.VideoURL),
			ThumbnailURL:      optional(res.ThumbnailURL),
			CompletedAt:       &now,
		}
		if len(project.LyricsTiming) == 0 {
			patch.LyricsTiming = res.Lyrics
		}
		ok, err := s.transition(ctx, project, models.StatusCompleted, models.Predecessors(models.StatusCompleted), patch)
		if err != nil || !ok {
			return ok, err
		}
		s.notify(ctx, projectID, GoalCompletion)
		return true, nil

	case runpod.CallbackFailed:
		msg := strings.TrimSpace(payload.Error)
		if msg == "" {
			msg = "Processing failed"
		}
		ok, err := s.transition(ctx, project, models.StatusFailed, models.Predecessors(models.StatusFailed), models.ProjectPatch{
			ErrorMessage: &msg,
			CompletedAt:  &now,
		})
		if err != nil || !ok {
			return ok, err
		}
		s.notify(ctx, projectID, GoalFailure)
		return true, nil
	}

	return false, invalid("status", "unknown callback status %q", payload.Status)
}

func (s *ProjectService) Get(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	return s.projects.GetProject(ctx, projectID, userID)
}

func (s *ProjectService) List(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	return s.projects.ListProjects(ctx, userID, 100)
}

// DownloadLinks returns a short-lived link per available output. Worker
// outputs that are already absolute URLs are passed through.
func (s *ProjectService) DownloadLinks(ctx context.Context, userID, projectID uuid.UUID) (map[string]string, error) {
	project, err := s.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.StatusCompleted {
		return nil, ErrProjectNotReady
	}

	base := downloadBase(project)
	outputs := map[string]struct {
		ref  string
		name string
	}{
		"video":        {project.VideoURL.String, base + ".mp4"},
		"instrumental": {project.ProcessedAudioURL.String, base + " (Instrumental).mp3"},
		"vocals":       {project.VocalsAudioURL.String, base + " (Vocals).mp3"},
		"original":     {project.OriginalAudioPath, base + " (Original)" + audioExt(project.OriginalAudioPath)},
	}

	links := make(map[string]string, len(outputs))
	for key, out := range outputs {
		if out.ref == "" {
			continue
		}
		if strings.HasPrefix(out.ref, "http://") || strings.HasPrefix(out.ref, "https://") {
			links[key] = out.ref
			continue
		}
		u, err := s.objects.SignedURL(ctx, out.ref, s.cfg.SignedURLTTL, out.name)
		if err != nil {
			return nil, fmt.Errorf("sign %s link: %w", key, err)
		}
		links[key] = u
	}
	return links, nil
}

func (s *ProjectService) SignedURLTTL() time.Duration {
	return s.cfg.SignedURLTTL
}

func (s *ProjectService) transition(ctx context.Context, project *models.Project, to models.ProjectStatus, from []models.ProjectStatus, patch models.ProjectPatch) (bool, error) {
	ok, err := s.projects.TransitionProject(ctx, project.ID, to, from, patch)
	if err != nil {
		metrics.ProjectTransitions.WithLabelValues(string(to), "error").Inc()
		return false, fmt.Errorf("transition project %s to %s: %w", project.ID, to, err)
	}
	if !ok {
		metrics.ProjectTransitions.WithLabelValues(string(to), "ignored").Inc()
		log.Info().
			Str("project_id", project.ID.String()).
			Str("from", string(project.Status)).
			Str("to", string(to)).
			Msg("Transition ignored: project not in a valid predecessor state")
		return false, nil
	}

	metrics.ProjectTransitions.WithLabelValues(string(to), "applied").Inc()
	log.Info().
		Str("project_id", project.ID.String()).
		Str("from", string(project.Status)).
		Str("to", string(to)).
		Msg("Project transitioned")
	return true, nil
}

// failProject moves any non-terminal project to failed and reports whether
// this call made the move.
func (s *ProjectService) failProject(ctx context.Context, project *models.Project, message string) bool {
	now := s.now()
	ok, err := s.transition(ctx, project, models.StatusFailed, models.Predecessors(models.StatusFailed), models.ProjectPatch{
		ErrorMessage: &message,
		CompletedAt:  &now,
	})
	if err != nil {
		log.Error().Err(err).Str("project_id", project.ID.String()).Msg("Failed to mark project failed")
		return false
	}
	if ok {
		project.Status = models.StatusFailed
	}
	return ok
}

func (s *ProjectService) discardUpload(ctx context.Context, path string) {
	if err := s.objects.Delete(ctx, path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove orphaned upload")
	}
}

func (s *ProjectService) refund(ctx context.Context, project *models.Project, amount int, ref, description string) {
	if amount <= 0 {
		return
	}
	if _, err := s.ledger.Credit(ctx, credits.CreditRequest{
		UserID:      project.UserID,
		Amount:      amount,
		Kind:        models.KindRefund,
		Description: description,
		ProjectID:   uuid.NullUUID{UUID: project.ID, Valid: true},
		ExternalRef: ref,
	}); err != nil {
		log.Error().Err(err).Str("project_id", project.ID.String()).Int("amount", amount).Msg("Failed to refund credits")
	}
}

func (s *ProjectService) notify(ctx context.Context, projectID uuid.UUID, goal Goal) {
	if s.notifier == nil {
		return
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID.String()).Msg("Failed to reload project for notification")
		return
	}
	s.notifier.Notify(ctx, project, goal)
}

func (s *ProjectService) jobInput(ctx context.Context, project *models.Project, tier models.Tier, mode runpod.Mode) (runpod.JobInput, error) {
	audioURL, err := s.objects.SignedURL(ctx, project.OriginalAudioPath, workerAudioTTL, "")
	if err != nil {
		return runpod.JobInput{}, fmt.Errorf("sign source audio: %w", err)
	}

	input := runpod.JobInput{
		Mode:             mode,
		ProjectID:        project.ID.String(),
		AudioURL:         audioURL,
		ProcessingType:   project.ProcessingType,
		IncludeLyrics:    project.IncludeLyrics,
		VideoQuality:     project.VideoQuality,
		TrackNumber:      project.TrackNumber,
		ArtistName:       project.ArtistName,
		SongTitle:        project.SongTitle,
		LyricsText:       project.LyricsText,
		Style:            project.Style,
		SubscriptionTier: tier,
		CallbackURL:      runpod.CallbackURL(s.cfg.BaseURL, s.cfg.CallbackSecret),
	}
	if mode == runpod.ModeRender {
		input.ProcessedAudioURL = project.ProcessedAudioURL.String
		input.VocalsAudioURL = project.VocalsAudioURL.String
		input.LyricsTiming = project.LyricsTiming
	}
	return input, nil
}

func validateTiming(lyrics []models.LyricWord) error {
	if len(lyrics) == 0 {
		return invalid("lyrics", "at least one word is required")
	}
	for i, w := range lyrics {
		if strings.TrimSpace(w.Word) == "" {
			return invalid("lyrics", "word %d is empty", i)
		}
		if w.Start < 0 || w.End < w.Start {
			return invalid("lyrics", "word %d has invalid timing %.2f-%.2f", i, w.Start, w.End)
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func audioExt(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".mp3", ".wav", ".flac", ".m4a", ".ogg", ".aac":
		return ext
	}
	return ".mp3"
}

func downloadBase(p *models.Project) string {
	name := p.ArtistName + " - " + p.SongTitle
	if p.TrackNumber != "" {
		name = p.TrackNumber + ". " + name
	}
	return strings.NewReplacer("/", "-", "\\", "-", "\"", "'").Replace(name)
}
