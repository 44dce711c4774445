package supabase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// ProfileDirectory reads profile contact details through the PostgREST API
// with the service-role key.
type ProfileDirectory struct {
	client *supabase.Client
}

func NewProfileDirectory(supabaseURL, serviceRoleKey string) (*ProfileDirectory, error) {
	client, err := supabase.NewClient(supabaseURL, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &ProfileDirectory{client: client}, nil
}

type profileEmail struct {
	Email *string `json:"email"`
}

// EmailForUser returns "" with a nil error when the profile has no address.
func (p *ProfileDirectory) EmailForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	var rows []profileEmail
	err := withContext(ctx, func() error {
		_, err := p.client.From("profiles").
			Select("email", "", false).
			Eq("id", userID.String()).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up profile email: %w", err)
	}
	if len(rows) == 0 || rows[0].Email == nil {
		return "", nil
	}
	return *rows[0].Email, nil
}
