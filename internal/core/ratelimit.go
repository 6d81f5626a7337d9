package core

import "time"

// RateLimit is the request budget tracked for one limiter key.
type RateLimit struct {
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	ResetTime   time.Time `json:"reset_time"`
	WindowStart time.Time `json:"window_start"`
}

// ResetMillis returns the reset time as epoch milliseconds.
func (r RateLimit) ResetMillis() int64 {
	if r.ResetTime.IsZero() {
		return 0
	}
	return r.ResetTime.UnixMilli()
}
