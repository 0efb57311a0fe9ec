package downsell

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sendgate/sendgate/pkg/upstream"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want settleAction
	}{
		{"bot blocked", &upstream.Error{Kind: upstream.KindBotBlocked}, actionSkip},
		{"user deactivated", &upstream.Error{Kind: upstream.KindUserDeactivated}, actionSkip},
		{"chat not found", &upstream.Error{Kind: upstream.KindChatNotFound}, actionSkip},
		{"invalid chat id", &upstream.Error{Kind: upstream.KindInvalidChatID}, actionSkip},
		{"rate limited drop", &upstream.Error{Kind: upstream.KindRateLimited}, actionRetry},
		{"timeout", &upstream.Error{Kind: upstream.KindTimeout}, actionRetry},
		{"network", &upstream.Error{Kind: upstream.KindNetwork}, actionRetry},
		{"server", &upstream.Error{Kind: upstream.KindServer}, actionRetry},
		{"context canceled", context.Canceled, actionRetry},
		{"deadline exceeded", context.DeadlineExceeded, actionRetry},
		{"forbidden", &upstream.Error{Kind: upstream.KindForbidden}, actionFail},
		{"bad request", &upstream.Error{Kind: upstream.KindBadRequest}, actionFail},
		{"other upstream", &upstream.Error{Kind: upstream.KindOther}, actionFail},
		{"plain error", errors.New("malformed credential material"), actionFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err))
		})
	}
}

func TestClassifyFailureUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("delivering downsell: %w", &upstream.Error{Kind: upstream.KindBotBlocked})
	assert.Equal(t, actionSkip, classifyFailure(wrapped))

	transient := fmt.Errorf("delivering downsell: %w", &upstream.Error{Kind: upstream.KindTimeout})
	assert.Equal(t, actionRetry, classifyFailure(transient))
}
