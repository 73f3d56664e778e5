package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		errorText  string
		returnCode int
		want       FailureKind
	}{
		{"binary missing", "codex: command not found", 127, KindPermanent},
		{"not installed marker", "not_installed", 0, KindPermanent},
		{"auth failure", "401 Unauthorized", 1, KindPermanent},
		{"forbidden", "403 Forbidden: insufficient scope", 1, KindPermanent},
		{"timeout", "context deadline exceeded: timeout after 300s", 0, KindTimeout},
		{"rate limit", "rate limit exceeded", 1, KindRateLimit},
		{"http 429", "upstream returned 429", 1, KindRateLimit},
		{"quota", "monthly quota exhausted", 1, KindRateLimit},
		{"signal killed", "process exited", 137, KindPermanent},
		{"plain failure", "connection reset by peer", 1, KindTransient},
		{"empty error", "", 0, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.errorText, tt.returnCode))
		})
	}
}

func TestClassifyKeywordsBeforeReturnCode(t *testing.T) {
	// A rate-limit message wins over a signal-style return code.
	assert.Equal(t, KindRateLimit, Classify("rate limited", 137))
}

func TestFailureKindRetryable(t *testing.T) {
	assert.False(t, KindPermanent.Retryable())
	assert.False(t, KindBlocked.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindRateLimit.Retryable())
	assert.True(t, KindTransient.Retryable())
}
