package ja4beacon

import "fmt"

// LatencyFingerprint estimates one-way client latency from when the
// connection was accepted and when its first request arrived, both in
// Nanotime nanoseconds. Half the elapsed time stands in for the one-way trip.
// The second field is a TTL slot that is always 0, since a TLS terminator
// never sees the client's IP TTL.
func LatencyFingerprint(acceptedAt, firstRequestAt int64) (string, bool) {
	if acceptedAt == 0 || firstRequestAt == 0 {
		return "", false
	}
	elapsedMicros := max(0, (firstRequestAt-acceptedAt)/1000)
	return fmt.Sprintf("%d_0", elapsedMicros/2), true
}
