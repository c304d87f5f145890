package ja4beacon

const (
	// MaxCaptureBytes is the most raw connection data held while waiting for
	// a complete ClientHello
	MaxCaptureBytes = 64 * 1024

	recordHeaderLength    = 5
	handshakeHeaderLength = 4
	randomLength          = 32

	// TLS record content types
	RecordTypeChangeCipherSpec uint8 = 20
	RecordTypeAlert            uint8 = 21
	RecordTypeHandshake        uint8 = 22
	RecordTypeApplicationData  uint8 = 23
	RecordTypeHeartbeat        uint8 = 24

	HandshakeTypeClientHello uint8 = 1

	// TLS Extension types
	ExtServerName          uint16 = 0x0000
	ExtEllipticCurves      uint16 = 0x000a
	ExtECPointFormats      uint16 = 0x000b
	ExtSignatureAlgorithms uint16 = 0x000d
	ExtALPN                uint16 = 0x0010
	ExtPadding             uint16 = 0x0015
	ExtSupportedVersions   uint16 = 0x002b

	sniHostName uint8 = 0

	// TLS Protocol Versions
	VersionSSL20 uint16 = 0x0002
	VersionSSL30 uint16 = 0x0300
	VersionTLS10 uint16 = 0x0301
	VersionTLS11 uint16 = 0x0302
	VersionTLS12 uint16 = 0x0303
	VersionTLS13 uint16 = 0x0304

	// emptyHash stands in for the digest of a list with nothing in it
	emptyHash = "000000000000"
	hashWidth = 12
)

// Common GREASE values used by clients (RFC 8701)
var GreaseValues = []uint16{
	0x0A0A, 0x1A1A, 0x2A2A, 0x3A3A, 0x4A4A,
	0x5A5A, 0x6A6A, 0x7A7A, 0x8A8A, 0x9A9A,
	0xAAAA, 0xBABA, 0xCACA, 0xDADA, 0xEAEA,
	0xFAFA,
}

var versionCodes = map[uint16]string{
	VersionSSL20: "s2",
	VersionSSL30: "s3",
	VersionTLS10: "10",
	VersionTLS11: "11",
	VersionTLS12: "12",
	VersionTLS13: "13",
}
