package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer(t *testing.T) {
	timer := NewNamedTimer("test_timer")
	assert.Equal(t, "test_timer", timer.Name())

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.GreaterOrEqual(t, duration, 10*time.Millisecond)
	assert.Equal(t, duration, timer.Duration())

	str := timer.String()
	assert.Contains(t, str, "test_timer")
	assert.Contains(t, str, "ms")

	unnamed := NewTimer()
	unnamed.Stop()
	assert.Empty(t, unnamed.Name())
	assert.NotContains(t, unnamed.String(), ":")
}

func TestStages(t *testing.T) {
	var s Stages
	s.Start("decode")
	time.Sleep(2 * time.Millisecond)
	s.Start("predict")
	time.Sleep(5 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, s.Get("decode"), 2*time.Millisecond)
	assert.GreaterOrEqual(t, s.Get("predict"), 5*time.Millisecond)
	assert.Zero(t, s.Get("encode"))
	assert.Equal(t, s.Get("decode")+s.Get("predict"), s.Total())
	assert.Contains(t, s.String(), "decode: ")
	assert.Contains(t, s.String(), ", predict: ")

	// A second Stop does not restart the last stage.
	before := s.Get("predict")
	s.Stop()
	assert.Equal(t, before, s.Get("predict"))
}
