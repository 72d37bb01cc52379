package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", 401, ErrAuthExpired},
		{"forbidden", 403, ErrAuthExpired},
		{"rate limited", 429, ErrTransient},
		{"server error", 500, ErrTransient},
		{"bad gateway", 502, ErrTransient},
		{"bad request", 400, ErrPermanentInput},
		{"unsupported media", 415, ErrPermanentInput},
		{"too large", 413, ErrPermanentInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus(tt.status, "details")
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "details")
		})
	}
}

func TestFromStatusUnmappedStatus(t *testing.T) {
	err := FromStatus(404, "not found")
	assert.NotErrorIs(t, err, ErrTransient)
	assert.NotErrorIs(t, err, ErrPermanentInput)
	assert.NotErrorIs(t, err, ErrAuthExpired)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped sentinel", fmt.Errorf("upload: %w", ErrTransient), true},
		{"rate limit message", errors.New("googleapi: rate limit exceeded"), true},
		{"timeout message", errors.New("dial tcp: i/o TIMEOUT"), true},
		{"503 message", errors.New("upstream returned 503"), true},
		{"auth sentinel never transient", fmt.Errorf("x: %w", ErrAuthExpired), false},
		{"permanent sentinel never transient", fmt.Errorf("x: %w", ErrPermanentInput), false},
		{"run-level sentinel never transient", fmt.Errorf("x: %w", ErrRunLevel), false},
		{"ordinary error", errors.New("file not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// A sentinel classification always wins over a matching message substring.
func TestSentinelBeatsPatternMatch(t *testing.T) {
	err := fmt.Errorf("quota exceeded: %w", ErrPermanentInput)
	assert.False(t, IsTransient(err))
}
