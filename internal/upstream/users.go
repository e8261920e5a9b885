package upstream

import (
	"context"
	"encoding/json"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/models"
)

// GetUser fetches a compact user profile.
func (c *Client) GetUser(ctx context.Context, host, token, userID string) (models.NormalizedUser, error) {
	raw, err := c.request(ctx, host, token, "users/show", map[string]interface{}{"userId": userID})
	if err != nil {
		return models.NormalizedUser{}, err
	}
	var ru rawUser
	if err := json.Unmarshal(raw, &ru); err != nil {
		return models.NormalizedUser{}, errs.JSON(err)
	}
	return ru.normalize(), nil
}

// GetUserDetail fetches the expanded user profile shape.
func (c *Client) GetUserDetail(ctx context.Context, host, token, userID string) (models.NormalizedUserDetail, error) {
	raw, err := c.request(ctx, host, token, "users/show", map[string]interface{}{"userId": userID})
	if err != nil {
		return models.NormalizedUserDetail{}, err
	}
	var rd rawUserDetail
	if err := json.Unmarshal(raw, &rd); err != nil {
		return models.NormalizedUserDetail{}, errs.JSON(err)
	}
	return rd.normalize(), nil
}

// SearchUsers looks a user up by username and optional remote host.
func (c *Client) SearchUsers(ctx context.Context, host, token, username string, userHost *string) (models.NormalizedUser, error) {
	params := map[string]interface{}{"username": username}
	if userHost != nil {
		params["host"] = *userHost
	}
	raw, err := c.request(ctx, host, token, "users/show", params)
	if err != nil {
		return models.NormalizedUser{}, err
	}
	var ru rawUser
	if err := json.Unmarshal(raw, &ru); err != nil {
		return models.NormalizedUser{}, errs.JSON(err)
	}
	return ru.normalize(), nil
}

// GetUserNotes fetches a user's own note history.
func (c *Client) GetUserNotes(ctx context.Context, host, token, accountID, userID string, opts models.TimelineOptions) ([]models.NormalizedNote, error) {
	params := timelineParams(opts)
	params["userId"] = userID
	raw, err := c.request(ctx, host, token, "users/notes", params)
	if err != nil {
		return nil, err
	}
	return decodeNoteList(raw, accountID, host)
}

// Follow starts following a user.
func (c *Client) Follow(ctx context.Context, host, token, userID string) error {
	_, err := c.request(ctx, host, token, "following/create", map[string]interface{}{"userId": userID})
	return err
}

// Unfollow stops following a user.
func (c *Client) Unfollow(ctx context.Context, host, token, userID string) error {
	_, err := c.request(ctx, host, token, "following/delete", map[string]interface{}{"userId": userID})
	return err
}

// GetNotifications fetches the account's notification stream.
func (c *Client) GetNotifications(ctx context.Context, host, token, accountID string, opts models.TimelineOptions) ([]models.NormalizedNotification, error) {
	params := timelineParams(opts)
	raw, err := c.request(ctx, host, token, "i/notifications", params)
	if err != nil {
		return nil, err
	}
	var list []rawNotification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.JSON(err)
	}
	out := make([]models.NormalizedNotification, 0, len(list))
	for _, n := range list {
		out = append(out, n.normalize(accountID, host))
	}
	return out, nil
}

// GetEmojis fetches the server's custom emoji catalog as name -> url.
func (c *Client) GetEmojis(ctx context.Context, host, token string) (map[string]string, error) {
	raw, err := c.request(ctx, host, token, "emojis", nil)
	if err != nil {
		return nil, err
	}
	var resp rawEmojisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errs.JSON(err)
	}
	out := make(map[string]string, len(resp.Emojis))
	for _, e := range resp.Emojis {
		out[e.Name] = e.URL
	}
	return out, nil
}
