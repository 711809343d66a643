package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pwnlabs/gymscout/internal/browser"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	assert.False(t, policy.ShouldRetry(nil, 1))
	assert.True(t, policy.ShouldRetry(errors.New("boom"), 1))
	assert.True(t, policy.ShouldRetry(errors.New("boom"), 2))
	assert.False(t, policy.ShouldRetry(errors.New("boom"), 3))
	assert.False(t, policy.ShouldRetry(context.Canceled, 1))
	assert.False(t, policy.ShouldRetry(context.DeadlineExceeded, 1))
	assert.False(t, policy.ShouldRetry(fmt.Errorf("%w: denied", browser.ErrAuthentication), 1))
	assert.True(t, policy.ShouldRetry(fmt.Errorf("%w: timeout", browser.ErrNavigation), 1))
}

func TestRetryPolicy_BackoffBounded(t *testing.T) {
	policy := NewRetryPolicy(5, 10*time.Millisecond, 80*time.Millisecond)

	for attempt := 0; attempt < 6; attempt++ {
		delay := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, 80*time.Millisecond)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	policy := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, policy.MaxAttempts())
	assert.True(t, policy.ShouldRetry(errors.New("x"), 2))
	assert.False(t, policy.ShouldRetry(errors.New("x"), 3))
}
