// Package progress defines the listener interface through which transfers
// report their advancement. The engine never renders progress itself.
package progress

// Listener receives transfer progress callbacks. OnProgress is invoked at a
// fixed cadence while bytes move, OnSuccess exactly once after the transfer
// completed. Implementations must not block for long: callbacks run on the
// transfer goroutine.
type Listener interface {
	OnProgress(current, total int64)
	OnSuccess(total int64)
}

// Nop is a Listener that ignores all callbacks.
type Nop struct{}

var _ Listener = Nop{}

func (Nop) OnProgress(current, total int64) {}
func (Nop) OnSuccess(total int64)           {}
