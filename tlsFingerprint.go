package ja4beacon

import (
	"strings"
	"unicode/utf8"
)

// JA4 builds the JA4 TLS client fingerprint:
//
//	t<version><sni><cipher count><extension count><alpn>_<cipher hash>_<extension hash>
//
// GREASE values are left out of every count and hash. Sorting happens only
// inside the hashes, the hello's own lists are never reordered.
func JA4(h *ClientHello) string {
	ciphers := hexIDs(stripGrease(h.CipherSuites))
	extensions := stripGrease(h.Extensions)

	var b strings.Builder
	b.WriteString("t")
	b.WriteString(tlsVersionCode(h))
	if h.HasServerName {
		b.WriteString("d")
	} else {
		b.WriteString("i")
	}
	b.WriteString(twoDigits(len(ciphers)))
	b.WriteString(twoDigits(len(extensions)))
	b.WriteString(alpnCode(h.ALPNProtocols))
	b.WriteString("_")
	b.WriteString(hashList(sortedCopy(ciphers)))
	b.WriteString("_")
	b.WriteString(extensionHash(h, extensions))
	return b.String()
}

// tlsVersionCode prefers the highest real entry in supported_versions and
// falls back to the legacy hello version.
func tlsVersionCode(h *ClientHello) string {
	version := h.LegacyVersion
	found := false
	for _, v := range h.SupportedVersions {
		if IsGrease(v) {
			continue
		}
		if !found || v > version {
			version = v
			found = true
		}
	}
	if code, ok := versionCodes[version]; ok {
		return code
	}
	return "00"
}

func alpnCode(protocols []string) string {
	if len(protocols) == 0 || protocols[0] == "" {
		return "00"
	}
	proto := protocols[0]
	if proto[0] >= utf8.RuneSelf {
		return "99"
	}
	if len(proto) > 2 {
		return asciiOrReplacement(proto[0]) + asciiOrReplacement(proto[len(proto)-1])
	}
	var b strings.Builder
	for i := 0; i < len(proto); i++ {
		b.WriteString(asciiOrReplacement(proto[i]))
	}
	return b.String()
}

// asciiOrReplacement treats protocol names as ASCII, so any high byte
// becomes U+FFFD instead of half a UTF-8 sequence.
func asciiOrReplacement(c byte) string {
	if c >= utf8.RuneSelf {
		return string(utf8.RuneError)
	}
	return string(rune(c))
}

// extensionHash hashes the sorted extensions, without SNI and ALPN, followed
// by the signature algorithms in wire order. A hello that sent no extensions
// at all gets the zero marker. One whose extensions were all filtered out
// still gets a real digest.
func extensionHash(h *ClientHello, extensions []uint16) string {
	if len(h.Extensions) == 0 {
		return emptyHash
	}

	hashed := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if ext == ExtServerName || ext == ExtALPN {
			continue
		}
		hashed = append(hashed, HexID(ext))
	}
	raw := strings.Join(sortedCopy(hashed), ",")

	if len(h.SignatureAlgorithms) > 0 {
		raw += "_" + strings.Join(hexIDs(stripGrease(h.SignatureAlgorithms)), ",")
	}
	return ShortHash(raw)
}
