package upstream

import (
	"encoding/json"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/models"
)

// The raw* types mirror the wire shape of a Misskey-family server
// response exactly; normalize methods translate them into the models
// package's stable Normalized* shapes, stamping account/server identity
// in at the boundary.

type rawUser struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Host      *string `json:"host"`
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
	IsBot     bool    `json:"isBot"`
}

func (r rawUser) normalize() models.NormalizedUser {
	return models.NormalizedUser{
		ID:        r.ID,
		Username:  r.Username,
		Host:      r.Host,
		Name:      r.Name,
		AvatarURL: r.AvatarURL,
		IsBot:     r.IsBot,
	}
}

type rawUserDetail struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Host           *string `json:"host"`
	Name           *string `json:"name"`
	AvatarURL      *string `json:"avatarUrl"`
	BannerURL      *string `json:"bannerUrl"`
	Description    *string `json:"description"`
	FollowersCount int64   `json:"followersCount"`
	FollowingCount int64   `json:"followingCount"`
	NotesCount     int64   `json:"notesCount"`
	IsBot          bool    `json:"isBot"`
	IsCat          bool    `json:"isCat"`
	IsFollowing    bool    `json:"isFollowing"`
	IsFollowed     bool    `json:"isFollowed"`
	CreatedAt      string  `json:"createdAt"`
}

func (r rawUserDetail) normalize() models.NormalizedUserDetail {
	return models.NormalizedUserDetail{
		ID:             r.ID,
		Username:       r.Username,
		Host:           r.Host,
		Name:           r.Name,
		AvatarURL:      r.AvatarURL,
		BannerURL:      r.BannerURL,
		Description:    r.Description,
		FollowersCount: r.FollowersCount,
		FollowingCount: r.FollowingCount,
		NotesCount:     r.NotesCount,
		IsBot:          r.IsBot,
		IsCat:          r.IsCat,
		IsFollowing:    r.IsFollowing,
		IsFollowed:     r.IsFollowed,
		CreatedAt:      r.CreatedAt,
	}
}

type rawDriveFile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnailUrl"`
	Size         int64   `json:"size"`
	IsSensitive  bool    `json:"isSensitive"`
}

func (r rawDriveFile) normalize() models.NormalizedDriveFile {
	return models.NormalizedDriveFile{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		URL:          r.URL,
		ThumbnailURL: r.ThumbnailURL,
		Size:         r.Size,
		IsSensitive:  r.IsSensitive,
	}
}

type rawPollChoice struct {
	Text    string `json:"text"`
	Votes   int64  `json:"votes"`
	IsVoted bool   `json:"isVoted"`
}

type rawPoll struct {
	Choices   []rawPollChoice `json:"choices"`
	Multiple  bool            `json:"multiple"`
	ExpiresAt *string         `json:"expiresAt"`
}

func (r rawPoll) normalize() models.NormalizedPoll {
	choices := make([]models.NormalizedPollChoice, 0, len(r.Choices))
	for _, c := range r.Choices {
		choices = append(choices, models.NormalizedPollChoice{
			Text:    c.Text,
			Votes:   c.Votes,
			IsVoted: c.IsVoted,
		})
	}
	return models.NormalizedPoll{Choices: choices, Multiple: r.Multiple, ExpiresAt: r.ExpiresAt}
}

// DecodeNote normalizes a single note payload, such as one delivered over
// a streaming channel, without going through an API call.
func DecodeNote(data []byte, accountID, serverHost string) (models.NormalizedNote, error) {
	var r rawNote
	if err := json.Unmarshal(data, &r); err != nil {
		return models.NormalizedNote{}, errs.JSON(err)
	}
	return r.normalize(accountID, serverHost), nil
}

// DecodeNotification normalizes a single notification payload delivered
// over the main streaming channel.
func DecodeNotification(data []byte, accountID, serverHost string) (models.NormalizedNotification, error) {
	var r rawNotification
	if err := json.Unmarshal(data, &r); err != nil {
		return models.NormalizedNotification{}, errs.JSON(err)
	}
	return r.normalize(accountID, serverHost), nil
}

type rawNote struct {
	ID             string            `json:"id"`
	CreatedAt      string            `json:"createdAt"`
	Text           *string           `json:"text"`
	CW             *string           `json:"cw"`
	User           rawUser           `json:"user"`
	Visibility     string            `json:"visibility"`
	LocalOnly      bool              `json:"localOnly"`
	Emojis         map[string]string `json:"emojis"`
	ReactionEmojis map[string]string `json:"reactionEmojis"`
	Reactions      map[string]int64  `json:"reactions"`
	MyReaction     *string           `json:"myReaction"`
	RenoteCount    int64             `json:"renoteCount"`
	RepliesCount   int64             `json:"repliesCount"`
	Files          []rawDriveFile    `json:"files"`
	Poll           *rawPoll          `json:"poll"`
	ModeFlags      map[string]bool   `json:"modeFlags"`
	IsFavorited    bool              `json:"isFavorited"`
	Reply          *rawNote          `json:"reply"`
	Renote         *rawNote          `json:"renote"`
}

func (r rawNote) normalize(accountID, serverHost string) models.NormalizedNote {
	files := make([]models.NormalizedDriveFile, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, f.normalize())
	}

	var poll *models.NormalizedPoll
	if r.Poll != nil {
		p := r.Poll.normalize()
		poll = &p
	}

	var reply, renote *models.NormalizedNote
	if r.Reply != nil {
		n := r.Reply.normalize(accountID, serverHost)
		reply = &n
	}
	if r.Renote != nil {
		n := r.Renote.normalize(accountID, serverHost)
		renote = &n
	}

	return models.NormalizedNote{
		ID:             r.ID,
		AccountID:      accountID,
		ServerHost:     serverHost,
		CreatedAt:      r.CreatedAt,
		Text:           r.Text,
		CW:             r.CW,
		User:           r.User.normalize(),
		Visibility:     r.Visibility,
		LocalOnly:      r.LocalOnly,
		Emojis:         r.Emojis,
		ReactionEmojis: r.ReactionEmojis,
		Reactions:      r.Reactions,
		MyReaction:     r.MyReaction,
		RenoteCount:    r.RenoteCount,
		RepliesCount:   r.RepliesCount,
		Files:          files,
		Poll:           poll,
		ModeFlags:      r.ModeFlags,
		IsFavorited:    r.IsFavorited,
		Reply:          reply,
		Renote:         renote,
	}
}

type rawNotification struct {
	ID        string   `json:"id"`
	CreatedAt string   `json:"createdAt"`
	Type      string   `json:"type"`
	User      *rawUser `json:"user"`
	Note      *rawNote `json:"note"`
	Reaction  *string  `json:"reaction"`
}

func (r rawNotification) normalize(accountID, serverHost string) models.NormalizedNotification {
	var user *models.NormalizedUser
	if r.User != nil {
		u := r.User.normalize()
		user = &u
	}
	var note *models.NormalizedNote
	if r.Note != nil {
		n := r.Note.normalize(accountID, serverHost)
		note = &n
	}
	return models.NormalizedNotification{
		ID:         r.ID,
		AccountID:  accountID,
		ServerHost: serverHost,
		CreatedAt:  r.CreatedAt,
		Type:       r.Type,
		User:       user,
		Note:       note,
		Reaction:   r.Reaction,
	}
}

type rawNoteReaction struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"createdAt"`
	User      rawUser `json:"user"`
	Type      string  `json:"type"`
}

func (r rawNoteReaction) normalize() models.NormalizedNoteReaction {
	return models.NormalizedNoteReaction{
		ID:        r.ID,
		User:      r.User.normalize(),
		Type:      r.Type,
		CreatedAt: r.CreatedAt,
	}
}

type rawCreateNoteResponse struct {
	CreatedNote rawNote `json:"createdNote"`
}

type rawMiAuthResponse struct {
	OK    bool     `json:"ok"`
	Token *string  `json:"token"`
	User  *rawUser `json:"user"`
}

type rawEmoji struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type rawEmojisResponse struct {
	Emojis []rawEmoji `json:"emojis"`
}
