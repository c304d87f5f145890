package ja4beacon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateSetOnce(t *testing.T) {
	state := NewConnectionState(100)
	assert.Equal(t, int64(100), state.AcceptedAt())

	assert.Zero(t, state.HandshakeCompletedAt())
	assert.True(t, state.SetHandshakeCompleted(200))
	assert.False(t, state.SetHandshakeCompleted(300))
	assert.Equal(t, int64(200), state.HandshakeCompletedAt())

	assert.True(t, state.MarkFirstRequest(5_000_100))
	assert.False(t, state.MarkFirstRequest(9_000_000))
	assert.Equal(t, int64(5_000_100), state.FirstRequestAt())

	_, ok := state.JA4()
	assert.False(t, ok)
	assert.Nil(t, state.ClientHello())
	assert.False(t, state.SetClientHello(nil, "ignored"))

	first := &ClientHello{LegacyVersion: VersionTLS12}
	assert.True(t, state.SetClientHello(first, "t12i000000_000000000000_000000000000"))
	assert.False(t, state.SetClientHello(&ClientHello{}, "other"))
	assert.Same(t, first, state.ClientHello())
	ja4, ok := state.JA4()
	require.True(t, ok)
	assert.Equal(t, "t12i000000_000000000000_000000000000", ja4)

	ja4l, ok := state.JA4L()
	require.True(t, ok)
	assert.Equal(t, "2500_0", ja4l)
}

func TestConnectionStateFirstRequestRace(t *testing.T) {
	state := NewConnectionState(Nanotime())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(at int64) {
			defer wg.Done()
			if state.MarkFirstRequest(at) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.NotZero(t, state.FirstRequestAt())
}

func TestNanotime(t *testing.T) {
	a := Nanotime()
	b := Nanotime()
	assert.Positive(t, a)
	assert.GreaterOrEqual(t, b, a)
}

func TestLatencyFingerprint(t *testing.T) {
	tests := []struct {
		name         string
		acceptedAt   int64
		firstRequest int64
		want         string
		wantOK       bool
	}{
		{name: "Both unset", wantOK: false},
		{name: "Accepted unset", firstRequest: 4_000_000, wantOK: false},
		{name: "Request unset", acceptedAt: 1_000_000, wantOK: false},
		{name: "Four milliseconds", acceptedAt: 1, firstRequest: 4_000_001, want: "2000_0", wantOK: true},
		{name: "Round trip from one to five ms", acceptedAt: 1_000_000, firstRequest: 5_000_000, want: "2000_0", wantOK: true},
		{name: "Sub microsecond", acceptedAt: 10, firstRequest: 900, want: "0_0", wantOK: true},
		{name: "Clock went backwards", acceptedAt: 5_000_000, firstRequest: 1_000_000, want: "0_0", wantOK: true},
		{name: "Odd microseconds round down", acceptedAt: 1_000, firstRequest: 4_000, want: "1_0", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LatencyFingerprint(tt.acceptedAt, tt.firstRequest)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
