package providers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *QuotaError
		want string
	}{
		{
			name: "message only",
			err:  &QuotaError{Message: "monthly minutes used up"},
			want: "quota exceeded: monthly minutes used up",
		},
		{
			name: "with benefits",
			err:  &QuotaError{Message: "limit reached", Benefits: []string{"more minutes", "longer posts"}},
			want: "quota exceeded: limit reached (upgrade for: more minutes, longer posts)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestIsQuota(t *testing.T) {
	quota := &QuotaError{Message: "nope"}
	wrapped := fmt.Errorf("stage failed: %w", quota)

	assert.True(t, IsQuota(quota))
	assert.True(t, IsQuota(wrapped))
	assert.False(t, IsQuota(errors.New("plain failure")))
	assert.False(t, IsQuota(nil))

	got, ok := AsQuota(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "nope", got.Message)

	_, ok = AsQuota(errors.New("other"))
	assert.False(t, ok)
}
