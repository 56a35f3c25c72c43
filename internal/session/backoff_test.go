package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 0, time.Second},
		{time.Second, 1, 2 * time.Second},
		{time.Second, 2, 4 * time.Second},
		{time.Second, 3, 8 * time.Second},
		{250 * time.Millisecond, 4, 4 * time.Second},
		{0, 3, 0},
		{time.Second, -1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.base, tt.attempt), "base=%s attempt=%d", tt.base, tt.attempt)
	}
}

func TestCappedBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, cappedBackoff(time.Second, 5*time.Second, 10))
	assert.Equal(t, 5*time.Second, cappedBackoff(10*time.Second, 5*time.Second, 0))
	assert.Equal(t, 4*time.Second, cappedBackoff(time.Second, 5*time.Second, 2))
}

func TestBackoffScheduleSum(t *testing.T) {
	// base * (2^0 + ... + 2^(n-1)) == base * (2^n - 1)
	var sum time.Duration
	for i := 0; i < 3; i++ {
		sum += BackoffDelay(time.Second, i)
	}
	assert.Equal(t, 7*time.Second, sum)
}
