package voice

import "fmt"

// DecodeError wraps an opus decoder failure encountered while draining the
// reorder window for ssrc. Per spec.md §7, decoder failure is fatal for the
// channel: the channel stops delivering further audio and, if a consumer
// was live, closes it with OnEnd before going quiet.
type DecodeError struct {
	SSRC uint32
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("voice: opus decode failed for ssrc %d: %v", e.SSRC, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Err returns the channel's sticky decode error, if any, wrapped as a
// *DecodeError. Returns nil while the channel is healthy.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decodeError == nil {
		return nil
	}
	return &DecodeError{SSRC: c.ssrc, Err: c.decodeError}
}
