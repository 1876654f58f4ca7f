// Package credential decides which model provider key serves a turn: the
// caller's own sealed key when one is active, otherwise the platform key.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/CivicPulse/civicpulse/internal/agent"
	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

const (
	msgNotConfigured = "AI assistant is not configured. Please try again later."
	msgReSaveKey     = "Your saved API key could not be decrypted. Please re-save your key."
	msgKeyUnusable   = "Your saved API key could not be used. Please re-save your key."
)

// ErrKeyUnreadable marks failures the user fixes by saving their key again
var ErrKeyUnreadable = errors.New("saved api key unusable")

// Error is a user-actionable credential failure. Message is safe to show.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// KeyLister reads a user's active sealed keys
type KeyLister interface {
	ListActiveKeys(ctx context.Context, userID string) ([]types.StoredKey, error)
}

// Factory builds a provider client for a plaintext key
type Factory func(ctx context.Context, provider, apiKey string) (agent.Provider, error)

// Platform is the operator-supplied fallback credential
type Platform struct {
	Provider string
	APIKey   string
}

// Resolved is the provider chosen for one turn
type Resolved struct {
	Provider agent.Provider
	BYOK     bool
}

// Resolver picks and builds the provider client for a caller
type Resolver struct {
	keys     KeyLister
	cipher   *Cipher
	factory  Factory
	platform Platform
	log      *logger.Logger
}

func NewResolver(keys KeyLister, c *Cipher, factory Factory, platform Platform) *Resolver {
	return &Resolver{
		keys:     keys,
		cipher:   c,
		factory:  factory,
		platform: platform,
		log:      logger.Component("credential"),
	}
}

// Resolve returns the caller's own provider when they have an active key for
// a supported provider, else the platform provider.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Resolved, error) {
	keys, err := r.keys.ListActiveKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load api keys: %w", err)
	}

	if k := preferred(keys); k != nil {
		plain, err := r.cipher.Decrypt(Sealed{Ciphertext: k.EncryptedKey, IV: k.IV, Tag: k.AuthTag})
		if err != nil {
			r.log.Warn("stored %s key for user %s failed authentication", k.Provider, userID)
			return nil, &Error{Message: msgReSaveKey, Err: fmt.Errorf("%w: %w", ErrKeyUnreadable, err)}
		}
		p, err := r.factory(ctx, k.Provider, plain)
		if err != nil {
			return nil, &Error{Message: msgKeyUnusable, Err: fmt.Errorf("%w: %w", ErrKeyUnreadable, err)}
		}
		return &Resolved{Provider: p, BYOK: true}, nil
	}

	if r.platform.APIKey == "" {
		return nil, &Error{Message: msgNotConfigured, Err: fmt.Errorf("platform %s key not set", r.platform.Provider)}
	}
	p, err := r.factory(ctx, r.platform.Provider, r.platform.APIKey)
	if err != nil {
		return nil, &Error{Message: msgNotConfigured, Err: err}
	}
	return &Resolved{Provider: p}, nil
}

// preferred picks the first active key in provider preference order
func preferred(keys []types.StoredKey) *types.StoredKey {
	for _, provider := range config.SupportedProviders {
		for i := range keys {
			if keys[i].IsActive && keys[i].Provider == provider {
				return &keys[i]
			}
		}
	}
	return nil
}

// Seal encrypts a plaintext provider key into a storable record
func (c *Cipher) Seal(userID, provider, apiKey string) (*types.StoredKey, error) {
	s, err := c.Encrypt(apiKey)
	if err != nil {
		return nil, err
	}
	return &types.StoredKey{
		UserID:       userID,
		Provider:     provider,
		EncryptedKey: s.Ciphertext,
		IV:           s.IV,
		AuthTag:      s.Tag,
		IsActive:     true,
	}, nil
}
