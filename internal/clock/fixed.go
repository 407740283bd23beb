package clock

// Fixed is a Clock that always returns the same timestamp, letting tests
// pin "now" instead of racing the wall clock.
type Fixed struct {
	TS int64
}

// Now implements Clock.
func (f Fixed) Now() int64 {
	return f.TS
}
