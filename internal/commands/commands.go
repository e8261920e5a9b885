// Package commands is the thin composition layer between the gateway and
// the store, keychain, upstream client, and streaming manager. It holds
// no business logic beyond wiring calls together; errors from the
// components it calls are returned unchanged.
package commands

import (
	"context"

	"github.com/google/uuid"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/keychain"
	"github.com/hitalin/notedeck/internal/models"
	"github.com/hitalin/notedeck/internal/security"
	"github.com/hitalin/notedeck/internal/store"
	"github.com/hitalin/notedeck/internal/streaming"
	"github.com/hitalin/notedeck/internal/upstream"
)

// Service composes every long-lived component an account-lifecycle
// operation needs.
type Service struct {
	store     *store.Store
	keychain  *keychain.Broker
	upstream  *upstream.Client
	streaming *streaming.Manager
	sessions  *security.AuthSessionTracker
}

func New(st *store.Store, kc *keychain.Broker, up *upstream.Client, sm *streaming.Manager, sessions *security.AuthSessionTracker) *Service {
	return &Service{store: st, keychain: kc, upstream: up, streaming: sm, sessions: sessions}
}

// ListAccounts returns every stored account's public projection.
func (s *Service) ListAccounts() ([]models.AccountPublic, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]models.AccountPublic, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Public())
	}
	return out, nil
}

// AccountIDForHost resolves the first stored account whose host matches.
func (s *Service) AccountIDForHost(host string) (string, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.Host == host {
			return a.ID, nil
		}
	}
	return "", errs.NotFound("no account for host: " + host)
}

// StartAuth validates host against the SSRF denylist, begins a MiAuth flow
// against it, and registers the session so it can later be consumed
// exactly once.
func (s *Service) StartAuth(host string) (models.AuthSession, error) {
	host, err := security.ValidateHost(host)
	if err != nil {
		return models.AuthSession{}, err
	}
	sessionID, authURL := s.upstream.StartMiAuth(host)
	s.sessions.Register(sessionID, host)
	return models.AuthSession{SessionID: sessionID, Host: host, URL: authURL}, nil
}

// CompleteAuth consumes a previously started session, polls the server
// for approval, and creates the account: storing its token in the
// keychain and its profile row in the store.
func (s *Service) CompleteAuth(ctx context.Context, sessionID, host string) (models.AccountPublic, error) {
	if err := s.sessions.Consume(sessionID, host); err != nil {
		return models.AccountPublic{}, err
	}

	result, err := s.upstream.PollMiAuth(ctx, host, sessionID)
	if err != nil {
		return models.AccountPublic{}, err
	}

	account := models.Account{
		ID:          uuid.NewString(),
		Host:        host,
		UserID:      result.User.ID,
		Username:    result.User.Username,
		DisplayName: result.User.Name,
		AvatarURL:   result.User.AvatarURL,
		Software:    "misskey",
	}

	if err := s.store.UpsertAccount(account); err != nil {
		return models.AccountPublic{}, err
	}
	if err := s.keychain.StoreToken(account.ID, result.Token); err != nil {
		return models.AccountPublic{}, err
	}

	return account.Public(), nil
}

// DeleteAccount disconnects any live streaming session, removes the
// keychain entry, then deletes the stored row.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.streaming.Disconnect(ctx, accountID); err != nil {
		return err
	}
	if err := s.keychain.DeleteToken(accountID); err != nil {
		return err
	}
	return s.store.DeleteAccount(accountID)
}

// ConnectAccount resolves the account's live credentials and opens its
// streaming connection.
func (s *Service) ConnectAccount(ctx context.Context, accountID string) error {
	host, token, err := s.keychain.GetCredentials(accountID)
	if err != nil {
		return err
	}
	return s.streaming.Connect(ctx, accountID, host, token)
}

// DisconnectAccount closes the account's streaming connection, if any.
func (s *Service) DisconnectAccount(ctx context.Context, accountID string) error {
	return s.streaming.Disconnect(ctx, accountID)
}

// SubscribeTimeline opens a timeline subscription for an already
// connected account.
func (s *Service) SubscribeTimeline(accountID, host string, timelineType models.TimelineType) (string, error) {
	return s.streaming.SubscribeTimeline(accountID, host, timelineType)
}

// SubscribeMain opens a main-channel subscription for an already
// connected account.
func (s *Service) SubscribeMain(accountID, host string) (string, error) {
	return s.streaming.SubscribeMain(accountID, host)
}

// Unsubscribe cancels a live subscription.
func (s *Service) Unsubscribe(accountID, subscriptionID string) error {
	return s.streaming.Unsubscribe(accountID, subscriptionID)
}

// Credentials resolves an account's host and live token for a one-off
// upstream call made on its behalf.
func (s *Service) Credentials(accountID string) (host, token string, err error) {
	return s.keychain.GetCredentials(accountID)
}

// Store exposes the underlying store for read-only lookups the gateway
// needs directly (server metadata cache, cached timeline fallback).
func (s *Service) Store() *store.Store {
	return s.store
}

// Upstream exposes the shared upstream client for gateway handlers that
// call straight through to a platform API.
func (s *Service) Upstream() *upstream.Client {
	return s.upstream
}
