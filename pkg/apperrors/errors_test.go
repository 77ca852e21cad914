package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Retryable(t *testing.T) {
	retryable := []Kind{KindConnectionLost, KindTimeout, KindPoolExhausted}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), k.String())
	}

	nonRetryable := []Kind{
		KindSyntaxError, KindMissingRelation, KindPermissionDenied,
		KindValidatorRejection, KindLLMUnavailable, KindLLMMalformed,
		KindCacheFailure, KindSchemaUnavailable, KindUnknown,
	}
	for _, k := range nonRetryable {
		assert.False(t, k.Retryable(), k.String())
	}
}

func TestWrap_DefaultMessage(t *testing.T) {
	cause := errors.New("pq: relation \"public.secret_table\" does not exist")
	err := Wrap(KindMissingRelation, "", cause)

	assert.Equal(t, DefaultMessage(KindMissingRelation), err.Message)
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, UserMessage(err), "secret_table")
}

func TestKindOf_WrappedChain(t *testing.T) {
	inner := New(KindTimeout, "slow")
	outer := fmt.Errorf("execute: %w", inner)

	assert.Equal(t, KindTimeout, KindOf(outer))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error hides details", errors.New("dial tcp 10.0.0.1:5432: refused"), DefaultMessage(KindUnknown)},
		{"custom message kept", New(KindValidatorRejection, "I can't add up text values."), "I can't add up text values."},
		{"busy", Wrap(KindPoolExhausted, "", nil), DefaultMessage(KindPoolExhausted)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestError_IsRetryableInterface(t *testing.T) {
	var r interface{ IsRetryable() bool }
	err := fmt.Errorf("wrapped: %w", New(KindConnectionLost, "x"))
	require.True(t, errors.As(err, &r))
	assert.True(t, r.IsRetryable())
}
