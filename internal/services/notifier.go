package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/email"
	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
)

type Goal string

const (
	GoalCompletion Goal = "completion"
	GoalFailure    Goal = "failure"
)

// Notifier emails users about terminal project states. It never returns an
// error: every failure is logged and swallowed.
type Notifier struct {
	resolver    EmailResolver
	sender      email.Sender
	from        string
	frontendURL string
	timeout     time.Duration
}

func NewNotifier(resolver EmailResolver, sender email.Sender, from, frontendURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		resolver:    resolver,
		sender:      sender,
		from:        from,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		timeout:     timeout,
	}
}

func (n *Notifier) Notify(ctx context.Context, project *models.Project, goal Goal) {
	logger := log.With().
		Str("project_id", project.ID.String()).
		Str("user_id", project.UserID.String()).
		Str("goal", string(goal)).
		Logger()

	if !project.NotifyOnComplete {
		metrics.EmailsTotal.WithLabelValues(string(goal), "disabled").Inc()
		return
	}

	// The caller's request may finish before the send does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	to, err := n.resolver.EmailForUser(ctx, project.UserID)
	if err != nil {
		metrics.EmailsTotal.WithLabelValues(string(goal), "error").Inc()
		logger.Error().Err(err).Msg("Failed to resolve notification address")
		return
	}
	if to == "" {
		metrics.EmailsTotal.WithLabelValues(string(goal), "no_address").Inc()
		logger.Warn().Msg("No email address on file, skipping notification")
		return
	}

	data := email.ProjectEmailData{
		Title:      projectTitle(project),
		ProjectURL: n.frontendURL + "/projects/" + project.ID.String(),
	}

	var subject, html, text string
	switch goal {
	case GoalCompletion:
		subject, html, text, err = email.RenderProjectCompletedEmail(data)
	case GoalFailure:
		data.Reason = project.ErrorMessage.String
		subject, html, text, err = email.RenderProjectFailedEmail(data)
	default:
		logger.Error().Msg("Unknown notification goal")
		return
	}
	if err != nil {
		metrics.EmailsTotal.WithLabelValues(string(goal), "error").Inc()
		logger.Error().Err(err).Msg("Failed to render notification")
		return
	}

	if err := n.sender.Send(ctx, email.Message{
		From:    n.from,
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		metrics.EmailsTotal.WithLabelValues(string(goal), "error").Inc()
		logger.Error().Err(err).Msg("Failed to send notification")
		return
	}

	metrics.EmailsTotal.WithLabelValues(string(goal), "sent").Inc()
	logger.Info().Msg("Notification sent")
}

func projectTitle(p *models.Project) string {
	if p.Title != "" {
		return p.Title
	}
	if p.ArtistName != "" && p.SongTitle != "" {
		return p.ArtistName + " - " + p.SongTitle
	}
	return p.SongTitle
}
