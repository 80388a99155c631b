package duplex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCeil2RoundsUpToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, ceil2(0))
	assert.Equal(t, 1, ceil2(1))
	assert.Equal(t, 4, ceil2(3))
	assert.Equal(t, 8, ceil2(8))
	assert.Equal(t, 16, ceil2(9))
}

func TestRingSizeInFloorsAt8192AtMatchingRates(t *testing.T) {
	assert.Equal(t, 8192, ringSizeIn(8000, 8000))
}

func TestRingSizeOutFloorsAt2048AtMatchingRates(t *testing.T) {
	assert.Equal(t, 2048, ringSizeOut(8000, 8000))
}

func TestRingSizeInGrowsWithRateMismatch(t *testing.T) {
	matched := ringSizeIn(8000, 8000)
	mismatched := ringSizeIn(8000, 48000)
	assert.Greater(t, mismatched, matched)
}

func TestRingSizeOutDoublesAboveModemRate8kHz(t *testing.T) {
	at8k := ringSizeOut(8000, 16000)
	above8k := ringSizeOut(16000, 8000)
	assert.Equal(t, 2*at8k, above8k)
}

func TestNewStreamDataStartsInContinueState(t *testing.T) {
	sd := newStreamData(0, "default")
	assert.Equal(t, int32(0), sd.state.Load())
}

func TestDataTimeoutFloorsAt1Second(t *testing.T) {
	assert.Equal(t, time.Second, dataTimeout(48000, 1))
}

func TestDataTimeoutScalesWithRequestSizeAndDeviceRate(t *testing.T) {
	got := dataTimeout(8000, 8000)
	assert.Equal(t, 4*time.Second, got)

	larger := dataTimeout(8000, 16000)
	assert.Greater(t, larger, got)

	fasterDevice := dataTimeout(48000, 8000)
	assert.Less(t, fasterDevice, got)
}
