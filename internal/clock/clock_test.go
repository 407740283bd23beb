package clock

import "testing"

func TestFixedClock(t *testing.T) {
	c := Fixed{TS: 1700000000}
	if got := c.Now(); got != 1700000000 {
		t.Fatalf("Fixed.Now() = %d, want 1700000000", got)
	}
}

func TestSHA256Hex(t *testing.T) {
	h1 := SHA256Hex([]byte("hello"), 16)
	h2 := SHA256Hex([]byte("hello"), 16)
	if h1 != h2 {
		t.Fatalf("SHA256Hex not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 16 {
		t.Fatalf("SHA256Hex length = %d, want 16", len(h1))
	}
	if h3 := SHA256Hex([]byte("world"), 16); h3 == h1 {
		t.Fatalf("SHA256Hex collided for different input")
	}
}

func TestNewIDUnique(t *testing.T) {
	if NewID() == NewID() {
		t.Fatalf("NewID returned duplicate ids")
	}
}
