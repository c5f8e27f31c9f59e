package crm

import (
	"context"
	"fmt"
	"log/slog"
)

// Profile endpoint: returns the authenticated user's canonical phone number,
// used to auto-seed the self number on first run.
const profilePath = "/api/method/crm.api.mobile_sync.get_user_profile"

// Profile is the slice of the user profile the sync engine cares about.
type Profile struct {
	MobileNo string `json:"mobile_no"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// profileEnvelope mirrors both response shapes:
// {"message": {"data": {...}}} or legacy {"data": {...}}.
type profileEnvelope struct {
	Message *struct {
		Data *Profile `json:"data"`
	} `json:"message"`
	Data *Profile `json:"data"`
}

// UserProfile fetches the authenticated user's profile.
func (c *Client) UserProfile(ctx context.Context) (*Profile, error) {
	var envelope profileEnvelope
	if err := c.postJSON(ctx, profilePath, nil, &envelope); err != nil {
		return nil, err
	}

	switch {
	case envelope.Message != nil && envelope.Message.Data != nil:
		p := envelope.Message.Data
		c.logger.Debug("fetched user profile", slog.String("mobile_no", p.MobileNo))

		return p, nil
	case envelope.Data != nil:
		return envelope.Data, nil
	default:
		return nil, fmt.Errorf("crm: profile response missing data")
	}
}
