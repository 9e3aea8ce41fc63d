package progress

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name        string
		done, total int64
		want        int
	}{
		{"unknown total", 10, -1, -1},
		{"zero total", 0, 0, -1},
		{"start", 0, 1000, 0},
		{"floor", 999, 1000, 99},
		{"done", 1000, 1000, 100},
		{"overshoot clamps", 2000, 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(tt.done, tt.total))
		})
	}
}

func TestReader_CountsBytes(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("x", 250)), 1000)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Len(t, data, 250)
	assert.Equal(t, int64(250), r.BytesRead())
	assert.Equal(t, 25, r.Percent())
}

func TestThrottle_Percent(t *testing.T) {
	th := NewThrottle(10, 0)

	assert.True(t, th.Allow(0, 0))
	assert.False(t, th.Allow(5, 50))
	assert.True(t, th.Allow(10, 100))
	assert.False(t, th.Allow(19, 190))
	assert.True(t, th.Allow(25, 250))
	assert.True(t, th.Allow(100, 1000))
	assert.False(t, th.Allow(100, 1000))
}

func TestThrottle_Indeterminate(t *testing.T) {
	th := NewThrottle(10, 100)

	assert.False(t, th.Allow(-1, 50))
	assert.True(t, th.Allow(-1, 100))
	assert.False(t, th.Allow(-1, 150))
	assert.True(t, th.Allow(-1, 230))
}
