package clock

import "time"

// nowFunc is a package variable so tests can override it with a fixed time
// without needing a heavier Clock mock for simple call sites.
var nowFunc = func() int64 {
	return time.Now().Unix()
}
