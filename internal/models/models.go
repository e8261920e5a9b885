// Package models holds the data shapes shared across the store, the
// upstream client, the streaming manager, and the gateway.
package models

import "encoding/json"

// Account is a locally authenticated identity on a remote server. Token
// is held here only until the credential broker migrates it into the OS
// keychain; after migration this field is cleared.
type Account struct {
	ID          string  `json:"id"`
	Host        string  `json:"host"`
	Token       string  `json:"-"`
	UserID      string  `json:"userId"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Software    string  `json:"software"`
}

// AccountPublic is the only account shape ever exposed to the UI or the
// gateway; it carries no token field, full stop.
type AccountPublic struct {
	ID          string  `json:"id"`
	Host        string  `json:"host"`
	UserID      string  `json:"userId"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Software    string  `json:"software"`
}

func (a Account) Public() AccountPublic {
	return AccountPublic{
		ID:          a.ID,
		Host:        a.Host,
		UserID:      a.UserID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		Software:    a.Software,
	}
}

// StoredServer is cached per-host server metadata.
type StoredServer struct {
	Host         string `json:"host"`
	Software     string `json:"software"`
	Version      string `json:"version"`
	FeaturesJSON string `json:"featuresJson"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// NormalizedUser is the public profile projection embedded in notes and
// notifications. Host is nil for local users.
type NormalizedUser struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Host      *string `json:"host"`
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	IsBot     bool    `json:"isBot,omitempty"`
}

// NormalizedUserDetail is the expanded profile shape returned by the user
// lookup endpoint.
type NormalizedUserDetail struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Host           *string `json:"host"`
	Name           *string `json:"name,omitempty"`
	AvatarURL      *string `json:"avatarUrl,omitempty"`
	BannerURL      *string `json:"bannerUrl,omitempty"`
	Description    *string `json:"description,omitempty"`
	FollowersCount int64   `json:"followersCount"`
	FollowingCount int64   `json:"followingCount"`
	NotesCount     int64   `json:"notesCount"`
	IsBot          bool    `json:"isBot"`
	IsCat          bool    `json:"isCat"`
	IsFollowing    bool    `json:"isFollowing"`
	IsFollowed     bool    `json:"isFollowed"`
	CreatedAt      string  `json:"createdAt"`
}

// NormalizedPollChoice is one option of a NormalizedPoll.
type NormalizedPollChoice struct {
	Text    string `json:"text"`
	Votes   int64  `json:"votes"`
	IsVoted bool   `json:"isVoted"`
}

// NormalizedPoll is an optional attachment on a note.
type NormalizedPoll struct {
	Choices   []NormalizedPollChoice `json:"choices"`
	Multiple  bool                   `json:"multiple"`
	ExpiresAt *string                `json:"expiresAt,omitempty"`
}

// NormalizedDriveFile is a file attachment on a note.
type NormalizedDriveFile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
	Size         int64   `json:"size"`
	IsSensitive  bool    `json:"isSensitive"`
}

// NormalizedNote is the canonical note shape produced by normalization.
// AccountID and ServerHost are set once at normalization time and never
// mutated afterward; Reply and Renote recurse with the same pair.
type NormalizedNote struct {
	ID             string                `json:"id"`
	AccountID      string                `json:"_accountId"`
	ServerHost     string                `json:"_serverHost"`
	CreatedAt      string                `json:"createdAt"`
	UpdatedAt      *string               `json:"updatedAt,omitempty"`
	Text           *string               `json:"text"`
	CW             *string               `json:"cw"`
	User           NormalizedUser        `json:"user"`
	Visibility     string                `json:"visibility"`
	LocalOnly      bool                  `json:"localOnly"`
	Emojis         map[string]string     `json:"emojis"`
	ReactionEmojis map[string]string     `json:"reactionEmojis"`
	Reactions      map[string]int64      `json:"reactions"`
	MyReaction     *string               `json:"myReaction,omitempty"`
	RenoteCount    int64                 `json:"renoteCount"`
	RepliesCount   int64                 `json:"repliesCount"`
	Files          []NormalizedDriveFile `json:"files"`
	Poll           *NormalizedPoll       `json:"poll,omitempty"`
	ModeFlags      map[string]bool       `json:"modeFlags,omitempty"`
	IsFavorited    bool                  `json:"isFavorited"`
	Reply          *NormalizedNote       `json:"reply,omitempty"`
	Renote         *NormalizedNote       `json:"renote,omitempty"`
}

// NormalizedNotification is the canonical notification shape.
type NormalizedNotification struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"_accountId"`
	ServerHost string          `json:"_serverHost"`
	CreatedAt  string          `json:"createdAt"`
	Type       string          `json:"type"`
	User       *NormalizedUser `json:"user,omitempty"`
	Note       *NormalizedNote `json:"note,omitempty"`
	Reaction   *string         `json:"reaction,omitempty"`
}

// NormalizedNoteReaction is one row of a note's reaction-listing.
type NormalizedNoteReaction struct {
	ID        string         `json:"id"`
	User      NormalizedUser `json:"user"`
	Type      string         `json:"type"`
	CreatedAt string         `json:"createdAt"`
}

// CreateNoteParams is the body accepted by note creation.
type CreateNoteParams struct {
	Text       *string           `json:"text,omitempty"`
	CW         *string           `json:"cw,omitempty"`
	Visibility *string           `json:"visibility,omitempty"`
	LocalOnly  *bool             `json:"localOnly,omitempty"`
	ReplyID    *string           `json:"replyId,omitempty"`
	RenoteID   *string           `json:"renoteId,omitempty"`
	FileIDs    []string          `json:"fileIds,omitempty"`
	ModeFlags  map[string]bool   `json:"-"`
}

// TimelineType is a closed set of timeline kinds; construct it only via
// ParseTimelineType so unknown values are rejected at the boundary.
type TimelineType string

const (
	TimelineHome   TimelineType = "home"
	TimelineLocal  TimelineType = "local"
	TimelineSocial TimelineType = "social"
	TimelineGlobal TimelineType = "global"
)

// ParseTimelineType validates a user-supplied timeline type string.
func ParseTimelineType(s string) (TimelineType, bool) {
	switch TimelineType(s) {
	case TimelineHome, TimelineLocal, TimelineSocial, TimelineGlobal:
		return TimelineType(s), true
	default:
		return "", false
	}
}

// APIEndpoint returns the upstream notes/*-timeline slug for this type.
func (t TimelineType) APIEndpoint() string {
	switch t {
	case TimelineHome:
		return "notes/timeline"
	case TimelineLocal:
		return "notes/local-timeline"
	case TimelineSocial:
		return "notes/hybrid-timeline"
	case TimelineGlobal:
		return "notes/global-timeline"
	default:
		return "notes/timeline"
	}
}

// WSChannel returns the streaming channel name for this timeline type.
func (t TimelineType) WSChannel() string {
	switch t {
	case TimelineHome:
		return "homeTimeline"
	case TimelineLocal:
		return "localTimeline"
	case TimelineSocial:
		return "hybridTimeline"
	case TimelineGlobal:
		return "globalTimeline"
	default:
		return "homeTimeline"
	}
}

// TimelineOptions parameterizes a timeline/notifications fetch.
type TimelineOptions struct {
	Limit   int64
	SinceID *string
	UntilID *string
}

func NewTimelineOptions(limit int64, sinceID, untilID *string) TimelineOptions {
	if limit <= 0 {
		limit = 20
	}
	return TimelineOptions{Limit: limit, SinceID: sinceID, UntilID: untilID}
}

// SubscriptionKind distinguishes a timeline stream from the main channel.
type SubscriptionKind string

const (
	SubscriptionTimeline SubscriptionKind = "timeline"
	SubscriptionMain     SubscriptionKind = "main"
)

// Subscription describes one live streaming subscription.
type Subscription struct {
	ID        string
	AccountID string
	Host      string
	Kind      SubscriptionKind
	Channel   string
}

// AuthSession is an in-flight MiAuth session awaiting user approval.
type AuthSession struct {
	SessionID string `json:"sessionId"`
	Host      string `json:"host"`
	URL       string `json:"url"`
	CreatedAt int64  `json:"-"` // unix seconds
}

// AuthResult is what a successful MiAuth poll yields.
type AuthResult struct {
	Token string         `json:"token"`
	User  NormalizedUser `json:"user"`
}

// CacheEntry describes a resolved image cache hit.
type CacheEntry struct {
	Hash        string
	Path        string
	ContentType string
	MTime       int64
	Size        int64
}

// RawJSON is used where a payload is deliberately left unparsed (e.g.
// streamed main-channel events of a type this system doesn't model).
type RawJSON = json.RawMessage
