package upstream

import (
	"context"
	"encoding/json"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/models"
)

// GetTimeline fetches one of the four closed timeline kinds.
func (c *Client) GetTimeline(ctx context.Context, host, token, accountID string, kind models.TimelineType, opts models.TimelineOptions) ([]models.NormalizedNote, error) {
	params := timelineParams(opts)
	raw, err := c.request(ctx, host, token, kind.APIEndpoint(), params)
	if err != nil {
		return nil, err
	}
	return decodeNoteList(raw, accountID, host)
}

func timelineParams(opts models.TimelineOptions) map[string]interface{} {
	limit := opts.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	params := map[string]interface{}{"limit": limit}
	if opts.SinceID != nil {
		params["sinceId"] = *opts.SinceID
	}
	if opts.UntilID != nil {
		params["untilId"] = *opts.UntilID
	}
	return params
}

// GetNote fetches a single note by id.
func (c *Client) GetNote(ctx context.Context, host, token, accountID, noteID string) (models.NormalizedNote, error) {
	raw, err := c.request(ctx, host, token, "notes/show", map[string]interface{}{"noteId": noteID})
	if err != nil {
		return models.NormalizedNote{}, err
	}
	var rn rawNote
	if err := json.Unmarshal(raw, &rn); err != nil {
		return models.NormalizedNote{}, errs.JSON(err)
	}
	return rn.normalize(accountID, host), nil
}

// CreateNote posts a new note.
func (c *Client) CreateNote(ctx context.Context, host, token, accountID string, params models.CreateNoteParams) (models.NormalizedNote, error) {
	body := map[string]interface{}{}
	if params.Text != nil {
		body["text"] = *params.Text
	}
	if params.CW != nil {
		body["cw"] = *params.CW
	}
	if params.Visibility != nil {
		body["visibility"] = *params.Visibility
	}
	if params.LocalOnly != nil {
		body["localOnly"] = *params.LocalOnly
	}
	for k, v := range params.ModeFlags {
		body[k] = v
	}
	if params.ReplyID != nil {
		body["replyId"] = *params.ReplyID
	}
	if params.RenoteID != nil {
		body["renoteId"] = *params.RenoteID
	}
	if len(params.FileIDs) > 0 {
		body["fileIds"] = params.FileIDs
	}

	raw, err := c.request(ctx, host, token, "notes/create", body)
	if err != nil {
		return models.NormalizedNote{}, err
	}
	var resp rawCreateNoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.NormalizedNote{}, errs.JSON(err)
	}
	return resp.CreatedNote.normalize(accountID, host), nil
}

// DeleteNote deletes a note the account owns.
func (c *Client) DeleteNote(ctx context.Context, host, token, noteID string) error {
	_, err := c.request(ctx, host, token, "notes/delete", map[string]interface{}{"noteId": noteID})
	return err
}

// GetNoteChildren fetches the reply children of a note.
func (c *Client) GetNoteChildren(ctx context.Context, host, token, accountID, noteID string, limit int64) ([]models.NormalizedNote, error) {
	raw, err := c.request(ctx, host, token, "notes/children", map[string]interface{}{"noteId": noteID, "limit": limit})
	if err != nil {
		return nil, err
	}
	return decodeNoteList(raw, accountID, host)
}

// GetNoteConversation fetches the ancestor chain of a note.
func (c *Client) GetNoteConversation(ctx context.Context, host, token, accountID, noteID string, limit int64) ([]models.NormalizedNote, error) {
	raw, err := c.request(ctx, host, token, "notes/conversation", map[string]interface{}{"noteId": noteID, "limit": limit})
	if err != nil {
		return nil, err
	}
	return decodeNoteList(raw, accountID, host)
}

// React adds a reaction to a note.
func (c *Client) React(ctx context.Context, host, token, noteID, reaction string) error {
	_, err := c.request(ctx, host, token, "notes/reactions/create", map[string]interface{}{"noteId": noteID, "reaction": reaction})
	return err
}

// Unreact removes the caller's reaction from a note.
func (c *Client) Unreact(ctx context.Context, host, token, noteID string) error {
	_, err := c.request(ctx, host, token, "notes/reactions/delete", map[string]interface{}{"noteId": noteID})
	return err
}

// ListReactions lists who reacted to a note, optionally filtered by type.
func (c *Client) ListReactions(ctx context.Context, host, token, noteID string, reactionType *string, limit int64) ([]models.NormalizedNoteReaction, error) {
	params := map[string]interface{}{"noteId": noteID, "limit": limit}
	if reactionType != nil {
		params["type"] = *reactionType
	}
	raw, err := c.request(ctx, host, token, "notes/reactions", params)
	if err != nil {
		return nil, err
	}
	var list []rawNoteReaction
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.JSON(err)
	}
	out := make([]models.NormalizedNoteReaction, 0, len(list))
	for _, r := range list {
		out = append(out, r.normalize())
	}
	return out, nil
}

// Favorite marks a note as favorited.
func (c *Client) Favorite(ctx context.Context, host, token, noteID string) error {
	_, err := c.request(ctx, host, token, "notes/favorites/create", map[string]interface{}{"noteId": noteID})
	return err
}

// Unfavorite removes a note from favorites.
func (c *Client) Unfavorite(ctx context.Context, host, token, noteID string) error {
	_, err := c.request(ctx, host, token, "notes/favorites/delete", map[string]interface{}{"noteId": noteID})
	return err
}

// SearchNotes runs a server-side full text search.
func (c *Client) SearchNotes(ctx context.Context, host, token, accountID, query string, opts models.TimelineOptions) ([]models.NormalizedNote, error) {
	params := timelineParams(opts)
	params["query"] = query
	raw, err := c.request(ctx, host, token, "notes/search", params)
	if err != nil {
		return nil, err
	}
	return decodeNoteList(raw, accountID, host)
}

func decodeNoteList(raw json.RawMessage, accountID, host string) ([]models.NormalizedNote, error) {
	var list []rawNote
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errs.JSON(err)
	}
	out := make([]models.NormalizedNote, 0, len(list))
	for _, n := range list {
		out = append(out, n.normalize(accountID, host))
	}
	return out, nil
}
