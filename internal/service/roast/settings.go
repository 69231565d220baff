package roast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"roastchat/internal/storage"
)

// Persisted override keys.
const (
	CredentialKey = "gemini_api_key"
	ToneKey       = "roast_style"
)

// Source tells where a resolved credential came from.
type Source string

const (
	SourceNone     Source = ""
	SourceOverride Source = "override"
	SourceBuild    Source = "build"
	SourcePage     Source = "page"
)

// Fallbacks are the non-persisted configuration sources, consulted after the
// persisted overrides.
type Fallbacks struct {
	BuildCredential string
	PageCredential  string
	PageTone        string
}

// Settings resolves the credential and tone used by the client. Overrides set
// here are written through to the key-value store.
type Settings struct {
	kv        storage.KeyValue
	cipher    *credentialCipher
	fallbacks Fallbacks

	mu            sync.RWMutex
	credential    string
	credentialErr error
	tone          Tone
}

// NewSettings loads persisted overrides from kv.
func NewSettings(ctx context.Context, kv storage.KeyValue, fallbacks Fallbacks) (*Settings, error) {
	if kv == nil {
		return nil, errors.New("key-value store is required")
	}
	c, err := loadCredentialCipher()
	if err != nil {
		return nil, err
	}
	s := &Settings{
		kv:     kv,
		cipher: c,
		fallbacks: Fallbacks{
			BuildCredential: strings.TrimSpace(fallbacks.BuildCredential),
			PageCredential:  strings.TrimSpace(fallbacks.PageCredential),
			PageTone:        strings.TrimSpace(fallbacks.PageTone),
		},
	}

	stored, err := kv.Get(ctx, CredentialKey)
	switch {
	case err == nil:
		// an unreadable override is reported and skipped in favor of the fallbacks
		s.credential, s.credentialErr = s.decodeCredential(stored)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load credential override: %w", err)
	}

	storedTone, err := kv.Get(ctx, ToneKey)
	switch {
	case err == nil:
		// an unknown stored tone falls through to the fallbacks
		if t, perr := ParseTone(storedTone); perr == nil {
			s.tone = t
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load tone override: %w", err)
	}
	return s, nil
}

// decodeCredential opens sealed values and passes plaintext ones through.
func (s *Settings) decodeCredential(stored string) (string, error) {
	stored = strings.TrimSpace(stored)
	if !isSealed(stored) {
		return stored, nil
	}
	if s.cipher == nil {
		return "", fmt.Errorf("%w: %s is not set", ErrCredentialUnreadable, CredentialKeyEnv)
	}
	plain, err := s.cipher.open(CredentialKey, stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnreadable, err)
	}
	return plain, nil
}

// SetCredential persists a credential override. A blank key clears it.
func (s *Settings) SetCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.ClearCredential(ctx)
	}
	value := key
	if s.cipher != nil {
		sealed, err := s.cipher.seal(CredentialKey, key)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		value = sealed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, CredentialKey, value); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	s.credential = key
	s.credentialErr = nil
	return nil
}

// ClearCredential removes the persisted override.
func (s *Settings) ClearCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Del(ctx, CredentialKey); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.credential = ""
	s.credentialErr = nil
	return nil
}

// CredentialError reports why a stored override could not be loaded. It is
// cleared once the override is set or cleared again.
func (s *Settings) CredentialError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentialErr
}

// Credential resolves the override, then the build-time value, then the page
// fallback.
func (s *Settings) Credential() (string, Source, bool) {
	s.mu.RLock()
	override := s.credential
	s.mu.RUnlock()
	switch {
	case override != "":
		return override, SourceOverride, true
	case s.fallbacks.BuildCredential != "":
		return s.fallbacks.BuildCredential, SourceBuild, true
	case s.fallbacks.PageCredential != "":
		return s.fallbacks.PageCredential, SourcePage, true
	default:
		return "", SourceNone, false
	}
}

// SetTone persists the tone preset.
func (s *Settings) SetTone(ctx context.Context, tone string) (Tone, error) {
	t, err := ParseTone(tone)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, ToneKey, string(t)); err != nil {
		return "", fmt.Errorf("store tone: %w", err)
	}
	s.tone = t
	return t, nil
}

// Tone resolves the override, then the page fallback, then DefaultTone.
func (s *Settings) Tone() Tone {
	s.mu.RLock()
	t := s.tone
	s.mu.RUnlock()
	if t != "" {
		return t
	}
	if pt, err := ParseTone(s.fallbacks.PageTone); err == nil {
		return pt
	}
	return DefaultTone
}
