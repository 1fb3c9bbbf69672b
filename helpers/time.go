package helpers

import "time"

// IntMillisecondDefault converts config value in milliseconds, 0 means def.
func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// UnixMilli is time.Time.UnixMilli for go1.17.
func UnixMilli(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
