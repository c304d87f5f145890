package store

import "time"

// Record is one finalized fingerprint submission. An empty fingerprint means
// the value was never available, e.g. JA4 when the ClientHello could not be
// parsed in time. IP and UserAgent are nil when absent, since a client may
// send an empty User-Agent on purpose. Records are treated as immutable once
// stored.
type Record struct {
	SessionID string
	Timestamp time.Time
	JA4       string
	JA4H      string
	JA4L      string
	IP        *string
	UserAgent *string
}

// Expired reports whether the record has outlived ttl at now. A ttl of zero
// or less keeps records forever.
func (r Record) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.After(r.Timestamp.Add(ttl))
}
