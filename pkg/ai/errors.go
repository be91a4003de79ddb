package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrProviderUnconfigured indicates no usable credential or flag combination exists for a provider.
	ErrProviderUnconfigured = errors.New("provider unconfigured")
	// ErrProviderEmptyResponse indicates the provider answered without usable content.
	ErrProviderEmptyResponse = errors.New("provider returned an empty response")
	// ErrTransport indicates the provider could not be reached or failed mid-request, including timeouts.
	ErrTransport = errors.New("provider transport error")
	// ErrMalformedOutput indicates the scoring output did not match the expected shape.
	ErrMalformedOutput = errors.New("malformed scoring output")
	// ErrReviewerWithoutPrimary indicates a reviewer scorer was configured without a primary scorer.
	ErrReviewerWithoutPrimary = errors.New("reviewer scorer configured without a primary scorer")
)

const (
	hintWrongKeyType      = "the credential was not accepted; check it is a secret API key for this provider rather than a project id, publishable key or key for another service"
	hintInsufficientScope = "the credential was recognised but lacks permission for this operation; grant the missing scope or role, or use an unrestricted key"
)

// AuthError reports a rejected provider credential with a hint on how to fix it.
type AuthError struct {
	Provider   string
	StatusCode int
	Hint       string
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s rejected credential (status %d): %s", e.Provider, e.StatusCode, e.Hint)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func classifyOpenAIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, provider, err)
	}

	statusCode := 0
	message := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		statusCode = reqErr.HTTPStatusCode
	}

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &AuthError{
			Provider:   provider,
			StatusCode: statusCode,
			Hint:       authHint(statusCode, message),
			Err:        err,
		}
	}
	if statusCode != 0 {
		return fmt.Errorf("%w: %s returned status %d: %s", ErrTransport, provider, statusCode, message)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, provider, err)
}

func classifyGRPCError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, provider, err)
	}

	switch status.Code(err) {
	case codes.Unauthenticated:
		return &AuthError{Provider: provider, StatusCode: http.StatusUnauthorized, Hint: hintWrongKeyType, Err: err}
	case codes.PermissionDenied:
		return &AuthError{Provider: provider, StatusCode: http.StatusForbidden, Hint: hintInsufficientScope, Err: err}
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransport, provider, err)
	}
}

// authHint picks the diagnostic for a rejected credential. Restricted keys
// missing a scope are reported as 401 by some providers, so the message is
// inspected as well as the status.
func authHint(statusCode int, message string) string {
	lower := strings.ToLower(message)
	if statusCode == http.StatusForbidden ||
		strings.Contains(lower, "scope") ||
		strings.Contains(lower, "insufficient permission") ||
		strings.Contains(lower, "permission") {
		return hintInsufficientScope
	}
	return hintWrongKeyType
}

// retryTransient calls fn until it succeeds, fails with a status the server
// may recover from, or runs out of attempts. The backoff doubles up to ten
// seconds and the wait ends early when ctx is done.
func retryTransient[T any](ctx context.Context, retries int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		last = err

		switch status.Code(err) {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		default:
			return zero, err
		}
		if attempt == retries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return zero, last
}
