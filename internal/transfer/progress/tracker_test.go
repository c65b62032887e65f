package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Add(t *testing.T) {
	tr := NewTracker(2048)

	for range 4 {
		assert.False(t, tr.Add(512))
	}

	assert.Equal(t, int64(2048), tr.Transferred())

	ratio, ok := tr.Ratio()
	assert.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 0.0001)
}

func TestTracker_IgnoresNonPositiveIncrements(t *testing.T) {
	tr := NewTracker(100)

	tr.Add(40)
	tr.Add(0)
	tr.Add(-10)

	assert.Equal(t, int64(40), tr.Transferred())
}

func TestTracker_Correction(t *testing.T) {
	tr := NewTracker(100)

	assert.False(t, tr.Add(80))
	assert.True(t, tr.Add(50))
	assert.Equal(t, int64(130), tr.Expected())

	ratio, _ := tr.Ratio()
	assert.InDelta(t, 1.0, ratio, 0.0001)
}

func TestTracker_UnknownExpected(t *testing.T) {
	tr := NewTracker(0)

	assert.False(t, tr.Add(1000))

	_, ok := tr.Ratio()
	assert.False(t, ok)

	assert.False(t, tr.SetExpected(0))
	assert.True(t, tr.SetExpected(4000))
	assert.False(t, tr.SetExpected(5000))
	assert.Equal(t, int64(4000), tr.Expected())

	ratio, ok := tr.Ratio()
	assert.True(t, ok)
	assert.InDelta(t, 0.25, ratio, 0.0001)
}

func TestNewTracker_NegativeExpected(t *testing.T) {
	assert.Equal(t, int64(0), NewTracker(-5).Expected())
}
