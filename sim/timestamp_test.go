package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestamp_Sentinels(t *testing.T) {
	tests := []struct {
		name    string
		ts      Timestamp
		valid   bool
		never   bool
		display string
	}{
		{"zero", TSZero, true, false, "0"},
		{"ordinary", Timestamp(1234), true, false, "1234"},
		{"never", TSNever, true, true, "NEVER"},
		{"invalid", TSInvalid, false, false, "INVALID"},
		{"other negative", Timestamp(-7), false, false, "INVALID(-7)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.ts.IsValid())
			assert.Equal(t, tt.never, tt.ts.IsNever())
			assert.Equal(t, tt.display, tt.ts.String())
		})
	}
}

func TestMinTimestamp_NeverIsIdentity(t *testing.T) {
	assert.Equal(t, Timestamp(5), MinTimestamp(TSNever, 5))
	assert.Equal(t, Timestamp(5), MinTimestamp(5, TSNever))
	assert.Equal(t, Timestamp(3), MinTimestamp(5, 3))
	assert.Equal(t, TSNever, MinTimestamp(TSNever, TSNever))
}
