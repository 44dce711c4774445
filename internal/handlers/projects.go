package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/services"
)

type ProjectsHandler struct {
	responder
	projects       *services.ProjectService
	maxUploadBytes int64
}

func NewProjectsHandler(projects *services.ProjectService, maxUploadBytes int64, hideErrorDetail bool) *ProjectsHandler {
	return &ProjectsHandler{
		responder:      responder{hideDetail: hideErrorDetail},
		projects:       projects,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateProject godoc
// @Summary     Create a karaoke project
// @Description Uploads the audio track with lyrics and options, charges credits and starts processing
// @Tags        projects
// @Accept      multipart/form-data
// @Produce     json
// @Param       audio formData file true "Audio track"
// @Param       lyrics formData string true "Song lyrics"
// @Success     201 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     402 {object} models.InsufficientCreditsResponse
// @Failure     403 {object} models.ErrorResponse
// @Router      /api/v1/projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var req models.CreateProjectRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid form", Message: err.Error()})
		return
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "audio file is required", Message: err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open audio file", Message: err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read audio file", Message: err.Error()})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	project, err := h.projects.CreateProject(c.Request.Context(), services.CreateProjectInput{
		UserID:           userID,
		Title:            req.Title,
		ArtistName:       req.ArtistName,
		SongTitle:        req.SongTitle,
		TrackNumber:      req.TrackNumber,
		Lyrics:           req.Lyrics,
		ProcessingType:   models.ProcessingType(req.ProcessingType),
		VideoQuality:     models.VideoQuality(req.VideoQuality),
		IncludeLyrics:    boolOr(req.IncludeLyrics, true),
		ReviewLyrics:     req.ReviewLyrics,
		AutoStart:        boolOr(req.AutoStart, true),
		NotifyOnComplete: boolOr(req.NotifyOnComplete, true),
		Style: models.StyleOptions{
			BackgroundColor: req.BackgroundColor,
			TextColor:       req.TextColor,
			HighlightColor:  req.HighlightColor,
			Font:            req.Font,
			DisplayMode:     models.DisplayMode(req.DisplayMode),
			ProfanityFilter: req.ProfanityFilter,
		},
		Audio: services.AudioUpload{
			Filename:    fileHeader.Filename,
			ContentType: contentType,
			Data:        data,
		},
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, toProjectResponse(project))
}

// ListProjects godoc
// @Summary     List projects
// @Tags        projects
// @Produce     json
// @Success     200 {object} models.ProjectListResponse
// @Router      /api/v1/projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}

	projects, err := h.projects.List(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	summaries := make([]models.ProjectSummary, len(projects))
	for i, p := range projects {
		summaries[i] = models.ProjectSummary{
			ID:         p.ID.String(),
			Title:      p.Title,
			ArtistName: p.ArtistName,
			Status:     p.Status,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		}
	}

	c.JSON(http.StatusOK, models.ProjectListResponse{Projects: summaries})
}

// GetProject godoc
// @Summary     Get a project
// @Tags        projects
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.ProjectResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.projects.Get(c.Request.Context(), userID, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, toProjectResponse(project))
}

// StartProcessing godoc
// @Summary     Start one-stage processing of a queued project
// @Tags        projects
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Success     202 {object} models.StatusResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/process [post]
func (h *ProjectsHandler) StartProcessing(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.projects.StartProcessing(c.Request.Context(), userID, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toStatusResponse(project))
}

// StartTranscription godoc
// @Summary     Start lyric transcription of a queued project
// @Description Begins the two-stage flow; the project stops in awaiting_review for lyric editing
// @Tags        projects
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Success     202 {object} models.StatusResponse
// @Failure     402 {object} models.InsufficientCreditsResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/transcribe [post]
func (h *ProjectsHandler) StartTranscription(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.projects.StartTranscription(c.Request.Context(), userID, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toStatusResponse(project))
}

// GetLyrics godoc
// @Summary     Get lyrics and word timing for review
// @Tags        projects
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.LyricsResponse
// @Router      /api/v1/projects/{project_id}/lyrics [get]
func (h *ProjectsHandler) GetLyrics(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	project, err := h.projects.Get(c.Request.Context(), userID, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	lyrics := project.LyricsTiming
	if lyrics == nil {
		lyrics = []models.LyricWord{}
	}
	c.JSON(http.StatusOK, models.LyricsResponse{
		ProjectID: project.ID.String(),
		Status:    project.Status,
		Text:      project.LyricsText,
		Lyrics:    lyrics,
	})
}

// SubmitRender godoc
// @Summary     Submit edited lyrics and render the video
// @Tags        projects
// @Accept      json
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Param       request body models.RenderRequest true "Edited word timing"
// @Success     202 {object} models.StatusResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/render [post]
func (h *ProjectsHandler) SubmitRender(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	var req models.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	project, err := h.projects.SubmitRender(c.Request.Context(), userID, projectID, req.Lyrics)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toStatusResponse(project))
}

// Download godoc
// @Summary     Get download links for a completed project
// @Tags        projects
// @Produce     json
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.DownloadResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/download [get]
func (h *ProjectsHandler) Download(c *gin.Context) {
	userID, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := projectID(c)
	if !ok {
		return
	}

	links, err := h.projects.DownloadLinks(c.Request.Context(), userID, projectID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, models.DownloadResponse{
		ProjectID: projectID.String(),
		URLs:      links,
		ExpiresIn: int(h.projects.SignedURLTTL().Seconds()),
	})
}

func toProjectResponse(p *models.Project) models.ProjectResponse {
	resp := models.ProjectResponse{
		ID:               p.ID.String(),
		Title:            p.Title,
		ArtistName:       p.ArtistName,
		SongTitle:        p.SongTitle,
		TrackNumber:      p.TrackNumber,
		Status:           p.Status,
		ProcessingType:   string(p.ProcessingType),
		VideoQuality:     string(p.VideoQuality),
		IncludeLyrics:    p.IncludeLyrics,
		ReviewLyrics:     p.ReviewLyrics,
		Style:            p.Style,
		CreditsCharged:   p.CreditsCharged,
		JobID:            p.JobID.String,
		HasVideo:         p.VideoURL.Valid,
		HasInstrumental:  p.ProcessedAudioURL.Valid,
		HasVocals:        p.VocalsAudioURL.Valid,
		ThumbnailURL:     p.ThumbnailURL.String,
		ErrorMessage:     p.ErrorMessage.String,
		NotifyOnComplete: p.NotifyOnComplete,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.ProcessingStartedAt.Valid {
		resp.ProcessingStartedAt = &p.ProcessingStartedAt.Time
	}
	if p.CompletedAt.Valid {
		resp.CompletedAt = &p.CompletedAt.Time
	}
	return resp
}

func toStatusResponse(p *models.Project) models.StatusResponse {
	return models.StatusResponse{
		ProjectID: p.ID.String(),
		Status:    p.Status,
		UpdatedAt: p.UpdatedAt,
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
