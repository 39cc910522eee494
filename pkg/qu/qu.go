package qu

// C is your basic empty struct signalling channel, used for trigger and quit
// signalling between goroutines.
type C chan struct{}

// T creates an unbuffered signalling channel (momentary and breaker
// switches).
func T() C { return make(C) }

// Ts creates a buffered signalling channel for cases where the sender must
// not block.
func Ts(n int) C { return make(C, n) }

// Q closes the channel, which makes it emit a nil to all readers. Closing
// twice is absorbed.
func (c C) Q() {
	defer func() { recover() }()
	close(c)
}

// Signal sends a momentary pulse without closing.
func (c C) Signal() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Wait returns the receiving side of the channel for selects.
func (c C) Wait() <-chan struct{} { return c }
