package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Model:      "gpt-4o",
		Cause:      errors.New("upstream"),
	}
	assert.Equal(t, "endpoint HTTP 503 model=gpt-4o server error: upstream", err.Error())

	minimal := &Error{Type: ErrorTypeUnknown, Message: "llm error"}
	assert.Equal(t, "unknown llm error", minimal.Error())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"auth", errors.New("status 401 Unauthorized"), ErrorTypeAuth, false},
		{"bad key", errors.New("invalid x-api-key"), ErrorTypeAuth, false},
		{"model", errors.New("the model gpt-9 does not exist"), ErrorTypeModel, false},
		{"not found", errors.New("HTTP 404 page missing"), ErrorTypeEndpoint, false},
		{"rate limit", errors.New("HTTP 429 Too Many Requests"), ErrorTypeRateLimited, true},
		{"too many", errors.New("too many requests"), ErrorTypeRateLimited, true},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrorTypeEndpoint, true},
		{"cancelled", fmt.Errorf("post: %w", context.Canceled), ErrorTypeCancelled, false},
		{"server", errors.New("status: 502 bad gateway"), ErrorTypeEndpoint, true},
		{"overloaded", errors.New("overloaded_error: Overloaded"), ErrorTypeEndpoint, true},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.IsRetryable())
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	orig := NewError(ErrorTypeModel, "model not found", false, nil)
	assert.Same(t, orig, ClassifyError(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, ClassifyError(nil))
}

func TestExtractStatusCode(t *testing.T) {
	tests := map[string]int{
		"HTTP 503 Service Unavailable": 503,
		"status 429 rate limited":      429,
		"status: 500":                  500,
		"code 502 bad gateway":         502,
		"Status: 404 Not Found":        404,
		"processed 503 records":        0,
		"port 5432 connection failed":  0,
		"error after 429 seconds":      0,
	}
	for in, want := range tests {
		assert.Equal(t, want, extractStatusCode(in), in)
	}
}

func TestToAppError(t *testing.T) {
	err := ToAppError(errors.New("HTTP 503 unavailable"))
	require.NotNil(t, err)
	assert.Equal(t, apperrors.KindLLMUnavailable, err.Kind)
	assert.True(t, IsRetryable(err))

	malformed := apperrors.New(apperrors.KindLLMMalformed, "bad")
	assert.Same(t, malformed, ToAppError(malformed))
	assert.Nil(t, ToAppError(nil))
}
