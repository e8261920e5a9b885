package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/models"
)

// StartMiAuth mints a fresh session id and returns the URL the user must
// open to approve it.
func (c *Client) StartMiAuth(host string) (sessionID, authURL string) {
	sessionID = uuid.NewString()
	authURL = fmt.Sprintf("https://%s/miauth/%s", host, sessionID)
	return sessionID, authURL
}

// PollMiAuth checks whether a MiAuth session has been approved.
func (c *Client) PollMiAuth(ctx context.Context, host, sessionID string) (*models.AuthResult, error) {
	url := fmt.Sprintf("https://%s/api/miauth/%s/check", host, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, jsonBody(map[string]interface{}{}))
	if err != nil {
		return nil, errs.Network(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Auth(fmt.Sprintf("MiAuth check failed: %d", resp.StatusCode))
	}

	data, err := readBodyLimited(resp, "miauth/check")
	if err != nil {
		return nil, err
	}

	var parsed rawMiAuthResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errs.JSON(err)
	}
	if !parsed.OK {
		return nil, errs.Auth("MiAuth authentication was not completed")
	}
	if parsed.Token == nil {
		return nil, errs.Auth("MiAuth response missing token")
	}
	if parsed.User == nil {
		return nil, errs.Auth("MiAuth response missing user")
	}

	return &models.AuthResult{Token: *parsed.Token, User: parsed.User.normalize()}, nil
}
