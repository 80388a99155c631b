package duplex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphorePostThenTryWait(t *testing.T) {
	s := newSemaphore()
	assert.False(t, s.tryWait())
	s.post()
	assert.True(t, s.tryWait())
	assert.False(t, s.tryWait())
}

func TestSemaphoreDrainConsumesEveryToken(t *testing.T) {
	s := newSemaphore()
	s.post()
	s.post()
	s.post()
	s.drain()
	assert.False(t, s.tryWait())
}

func TestSemaphoreWaitTimesOutWithNoPost(t *testing.T) {
	s := newSemaphore()
	timedOut := s.wait(20 * time.Millisecond)
	assert.True(t, timedOut)
}

func TestSemaphoreWaitReturnsOnPost(t *testing.T) {
	s := newSemaphore()
	s.post()
	timedOut := s.wait(time.Second)
	assert.False(t, timedOut)
}

func TestSemaphorePostNeverBlocksWhenSaturated(t *testing.T) {
	s := &semaphore{tokens: make(chan struct{}, 1)}
	s.post()
	done := make(chan struct{})
	go func() {
		s.post()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post blocked on a saturated semaphore")
	}
}
