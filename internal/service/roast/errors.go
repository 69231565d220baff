package roast

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("gemini api key missing: add one in settings, set GEMINI_API_KEY in .env, or provide page_config.gemini_api_key")
	ErrTransportFailure  = errors.New("gemini request failed")
	ErrSafetyBlocked     = errors.New("reply withheld by safety filters")
	ErrEmptyResponse     = errors.New("gemini returned no text")
	ErrUnknownTone       = errors.New("unknown tone preset")
	// ErrCredentialUnreadable means a sealed override is stored but cannot be
	// opened with the configured key.
	ErrCredentialUnreadable = errors.New("stored gemini api key cannot be decrypted")
)

// TransportError is a non-2xx response or a network-level failure. StatusCode
// is zero when no response was received.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("gemini request failed: %d - %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gemini request failed: %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("gemini request failed: %v", e.Err)
	default:
		return ErrTransportFailure.Error()
	}
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage renders a GenerateReply failure the way it is shown in the
// conversation.
func UserMessage(err error) string {
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return ErrMissingCredential.Error()
	case errors.As(err, &te):
		return te.Error()
	case errors.Is(err, ErrSafetyBlocked):
		return "That one got blocked by the safety filters. Try rephrasing it."
	case errors.Is(err, ErrEmptyResponse):
		return "I came up empty on that one. Please try again."
	default:
		return err.Error()
	}
}
