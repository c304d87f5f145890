package ja4beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJA4Chrome(t *testing.T) {
	hello, err := TryParse(chromeHello(t).record(t))
	require.NoError(t, err)
	assert.Equal(t, "t13d1516h2_8daaf6152771_e5627efa2ab1", JA4(hello))
}

func TestJA4(t *testing.T) {
	tests := []struct {
		name  string
		hello *ClientHello
		want  string
	}{
		{
			name: "Duplicate ciphers and GREASE without extensions",
			hello: &ClientHello{
				LegacyVersion: VersionTLS12,
				CipherSuites:  []uint16{0x002f, 0x0a0a, 0x002f},
			},
			want: "t12i020000_ac387427da08_000000000000",
		},
		{
			name:  "Nothing offered at all",
			hello: &ClientHello{LegacyVersion: 0x0200},
			want:  "t00i000000_000000000000_000000000000",
		},
		{
			name: "Only SNI and ALPN hash the empty string",
			hello: &ClientHello{
				LegacyVersion: VersionTLS11,
				CipherSuites:  []uint16{0x002f},
				Extensions:    []uint16{ExtServerName, ExtALPN},
				ALPNProtocols: []string{"http/1.1"},
				ServerName:    "example.com",
				HasServerName: true,
			},
			want: "t11d0102h1_ba72b8082249_e3b0c44298fc",
		},
		{
			name: "Signature algorithms appended in wire order",
			hello: &ClientHello{
				LegacyVersion:       VersionTLS12,
				CipherSuites:        []uint16{0x1303, 0x1301, 0x1302},
				Extensions:          []uint16{ExtSignatureAlgorithms, ExtECPointFormats, 0xbaba, ExtEllipticCurves},
				SignatureAlgorithms: []uint16{0x0403, 0x2a2a, 0x0804},
			},
			want: "t12i030300_55b375c5d22e_876bcc86782c",
		},
		{
			name: "Only signature algorithms",
			hello: &ClientHello{
				LegacyVersion:       VersionTLS10,
				Extensions:          []uint16{ExtSignatureAlgorithms},
				SignatureAlgorithms: []uint16{0x0403},
			},
			want: "t10i000100_000000000000_79c50902419d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JA4(tt.hello))
		})
	}
}

func TestTLSVersionCode(t *testing.T) {
	tests := []struct {
		name      string
		legacy    uint16
		supported []uint16
		want      string
	}{
		{name: "SSL 2", legacy: VersionSSL20, want: "s2"},
		{name: "SSL 3", legacy: VersionSSL30, want: "s3"},
		{name: "TLS 1.0", legacy: VersionTLS10, want: "10"},
		{name: "TLS 1.2 legacy", legacy: VersionTLS12, want: "12"},
		{name: "Unknown legacy", legacy: 0x7f1c, want: "00"},
		{name: "Highest supported wins", legacy: VersionTLS12, supported: []uint16{VersionTLS12, VersionTLS13}, want: "13"},
		{name: "GREASE ignored", legacy: VersionTLS12, supported: []uint16{0xfafa, VersionTLS11}, want: "11"},
		{name: "Only GREASE falls back", legacy: VersionTLS10, supported: []uint16{0xfafa}, want: "10"},
		{name: "Unmapped supported version", legacy: VersionTLS12, supported: []uint16{0x7f17}, want: "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &ClientHello{LegacyVersion: tt.legacy, SupportedVersions: tt.supported}
			assert.Equal(t, tt.want, tlsVersionCode(h))
		})
	}
}

func TestALPNCode(t *testing.T) {
	tests := []struct {
		name   string
		protos []string
		want   string
	}{
		{name: "None", want: "00"},
		{name: "Empty name", protos: []string{""}, want: "00"},
		{name: "h2", protos: []string{"h2", "http/1.1"}, want: "h2"},
		{name: "http/1.1", protos: []string{"http/1.1"}, want: "h1"},
		{name: "Single char", protos: []string{"x"}, want: "x"},
		{name: "Non-ASCII first byte", protos: []string{"\xffab"}, want: "99"},
		{name: "Non-ASCII last byte", protos: []string{"ab\xff"}, want: "a\uFFFD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alpnCode(tt.protos))
		})
	}
}

func TestJA4IgnoresGreasePosition(t *testing.T) {
	a := &ClientHello{
		LegacyVersion: VersionTLS12,
		CipherSuites:  []uint16{0x0a0a, 0x1301, 0x1302},
		Extensions:    []uint16{0x1a1a, 0x0017, 0x000a},
	}
	b := &ClientHello{
		LegacyVersion: VersionTLS12,
		CipherSuites:  []uint16{0x1301, 0xeaea, 0x1302, 0x5a5a},
		Extensions:    []uint16{0x0017, 0x000a, 0x9a9a},
	}
	assert.Equal(t, JA4(a), JA4(b))
}

func TestJA4CountsCapAt99(t *testing.T) {
	h := &ClientHello{LegacyVersion: VersionTLS12}
	for i := 0; i < 120; i++ {
		h.CipherSuites = append(h.CipherSuites, uint16(0x1000+i))
		h.Extensions = append(h.Extensions, uint16(0x2000+i))
	}
	assert.Equal(t, "t12i999900", JA4(h)[:10])
}
