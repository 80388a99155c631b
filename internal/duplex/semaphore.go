package duplex

import "time"

// semaphore is a counting semaphore over a buffered channel: Go has no
// native sem_t, so Post/TryWait/Wait are built on a channel token bucket.
// Post is best-effort non-blocking (a full channel just drops the extra
// token, same as a semaphore that's already saturated) and Wait blocks
// with a timeout, mirroring sem_post/sem_trywait/sem_timedwait.
type semaphore struct {
	tokens chan struct{}
}

// semCapacity bounds outstanding tokens. It only needs to be large enough
// that a burst of posts between waits never blocks Post; the logical
// semaphore value is otherwise effectively unbounded.
const semCapacity = 1 << 16

func newSemaphore() *semaphore {
	return &semaphore{tokens: make(chan struct{}, semCapacity)}
}

// post signals the semaphore once, non-blocking.
func (s *semaphore) post() {
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}

// tryWait consumes a token if one is immediately available.
func (s *semaphore) tryWait() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// drain consumes every currently available token, used before rebuilding a
// stream so stale posts from the previous session don't satisfy the next
// wait immediately.
func (s *semaphore) drain() {
	for s.tryWait() {
	}
}

// wait blocks for a token up to timeout, reporting whether it timed out.
func (s *semaphore) wait(timeout time.Duration) (timedOut bool) {
	select {
	case <-s.tokens:
		return false
	case <-time.After(timeout):
		return true
	}
}
