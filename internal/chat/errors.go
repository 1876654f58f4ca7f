package chat

import (
	"errors"
	"net/http"

	"github.com/CivicPulse/civicpulse/internal/credential"
	"github.com/CivicPulse/civicpulse/internal/quota"
)

var (
	// ErrUnauthenticated means no verified identity came with the request
	ErrUnauthenticated = errors.New("authentication required")
	// ErrConversationNotFound also covers conversations owned by someone else
	ErrConversationNotFound = errors.New("conversation not found")
)

// RequestError is a malformed chat request
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// QuotaExceededError refuses a query the caller has no allowance for
type QuotaExceededError struct {
	Reason          string
	RequiresPayment bool
}

func (e *QuotaExceededError) Error() string { return e.Reason }

// QuotaUnavailableError refuses a query because usage could not be counted
type QuotaUnavailableError struct {
	Err error
}

func (e *QuotaUnavailableError) Error() string { return quota.ReasonUnavailable }
func (e *QuotaUnavailableError) Unwrap() error { return e.Err }

// HTTPStatus maps an error returned before streaming to a response status
func HTTPStatus(err error) int {
	var (
		reqErr   *RequestError
		exceeded *QuotaExceededError
		unavail  *QuotaUnavailableError
		credErr  *credential.Error
	)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &exceeded):
		return http.StatusTooManyRequests
	case errors.As(err, &unavail):
		return http.StatusServiceUnavailable
	case errors.As(err, &credErr):
		// a broken saved key is fixable by the user, a missing platform key is not
		if errors.Is(credErr.Err, credential.ErrKeyUnreadable) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the text safe to show the caller for err
func PublicMessage(err error) string {
	var (
		reqErr   *RequestError
		exceeded *QuotaExceededError
		unavail  *QuotaUnavailableError
		credErr  *credential.Error
	)
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrConversationNotFound):
		return err.Error()
	case errors.As(err, &reqErr):
		return reqErr.Message
	case errors.As(err, &exceeded):
		return exceeded.Reason
	case errors.As(err, &unavail):
		return unavail.Error()
	case errors.As(err, &credErr):
		return credErr.Message
	}
	return "Something went wrong. Please try again."
}
