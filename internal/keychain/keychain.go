// Package keychain brokers account tokens between the OS credential store
// and the fallback copy held in the local sqlite row, migrating rows into
// the keychain opportunistically and never leaving a live token in memory
// longer than it has to.
package keychain

import (
	"runtime"

	"github.com/zalando/go-keyring"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/store"
)

const service = "notedeck"

// Broker mediates between the OS keychain and the store's fallback token
// column. On platforms without a keychain, go-keyring returns
// keyring.ErrNotFound for every read, which degrades the broker to always
// returning the row token without a second implementation.
type Broker struct {
	store *store.Store
}

func New(s *store.Store) *Broker {
	return &Broker{store: s}
}

// GetCredentials resolves the live token for accountID, migrating it into
// the OS keychain opportunistically. It follows a four-step contract:
// keychain hit wins and clears any stale row token; keychain miss falls
// back to the row token, attempting a verified migration into the
// keychain; if neither holds a token, it's an auth fault.
func (b *Broker) GetCredentials(accountID string) (host, token string, err error) {
	acct, err := b.store.GetAccount(accountID)
	if err != nil {
		return "", "", err
	}

	if kcToken, ferr := keyring.Get(service, accountID); ferr == nil {
		if acct.Token != "" {
			if err := b.store.ClearAccountToken(accountID); err != nil {
				return "", "", err
			}
		}
		return acct.Host, kcToken, nil
	} else if ferr != keyring.ErrNotFound {
		return "", "", errs.Keychain(ferr)
	}

	if acct.Token == "" {
		return "", "", errs.Auth("no credentials available for account")
	}

	rowToken := acct.Token

	if err := keyring.Set(service, accountID, rowToken); err == nil {
		readBack, rerr := keyring.Get(service, accountID)
		matched := rerr == nil && readBack == rowToken
		zeroizeString(readBack)
		if matched {
			if err := b.store.ClearAccountToken(accountID); err != nil {
				return "", "", err
			}
		}
	}

	return acct.Host, rowToken, nil
}

// StoreToken writes a fresh token directly into the keychain, used when an
// account is first created.
func (b *Broker) StoreToken(accountID, token string) error {
	if err := keyring.Set(service, accountID, token); err != nil {
		return errs.Keychain(err)
	}
	return nil
}

// DeleteToken removes any keychain entry for accountID. A missing entry is
// not an error.
func (b *Broker) DeleteToken(accountID string) error {
	if err := keyring.Delete(service, accountID); err != nil && err != keyring.ErrNotFound {
		return errs.Keychain(err)
	}
	return nil
}

// zeroizeString best-effort clears a throwaway byte copy of a temporary
// token value. Go strings are immutable, so this cannot reach back into
// the original string's backing array; it only prevents the []byte copy
// made here from lingering readable on the heap. runtime.KeepAlive stops
// the compiler eliding the clear as dead-store.
func zeroizeString(s string) {
	b := []byte(s)
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
