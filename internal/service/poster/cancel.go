package poster

import "sync"

// CancellationToken is a one-shot cancel flag shared between a task and the
// website it is posting to. Websites check it at points where stopping early
// is safe.
type CancellationToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Calling it more than once is harmless.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *CancellationToken) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// Check returns ErrCancelled if the token has been cancelled.
func (t *CancellationToken) Check() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}
