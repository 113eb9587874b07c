package logging

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldLogRateLimits(t *testing.T) {
	var last atomic.Int64

	require.True(t, ShouldLog(&last, time.Hour))
	assert.False(t, ShouldLog(&last, time.Hour))
	assert.False(t, ShouldLog(&last, time.Hour))

	last.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	assert.True(t, ShouldLog(&last, time.Hour))
}

func TestShouldLogWithoutState(t *testing.T) {
	assert.True(t, ShouldLog(nil, time.Second))

	var last atomic.Int64
	assert.True(t, ShouldLog(&last, 0))
	assert.True(t, ShouldLog(&last, 0))
}

func TestNewWithWriterTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "capture")
	log.Info("capture loop started", "fps", 10)

	out := buf.String()
	assert.Contains(t, out, "component=capture")
	assert.Contains(t, out, "fps=10")
	assert.Contains(t, out, `msg="capture loop started"`)
}
