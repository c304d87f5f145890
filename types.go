package ja4beacon

import (
	"encoding/json"
	"fmt"
)

// ClientHello holds the parts of a TLS ClientHello that fingerprints are
// derived from. Every list keeps wire order, with GREASE values and
// duplicates left in place. Values are never modified once parsed.
type ClientHello struct {
	LegacyVersion       uint16
	CipherSuites        []uint16
	Extensions          []uint16
	SupportedVersions   []uint16
	SignatureAlgorithms []uint16
	// Only the first offered protocol is ever captured
	ALPNProtocols []string
	ServerName    string
	HasServerName bool
}

// MarshalJSON renders identifiers as 0x prefixed hex, which is how they are
// usually written in TLS registries and tooling.
func (h ClientHello) MarshalJSON() ([]byte, error) {
	var serverName *string
	if h.HasServerName {
		serverName = &h.ServerName
	}

	names := make([]string, 0, len(h.Extensions))
	for _, ext := range h.Extensions {
		names = append(names, ExtensionName(ext))
	}

	return json.Marshal(struct {
		LegacyVersion       string   `json:"legacy_version"`
		CipherSuites        []string `json:"cipher_suites"`
		Extensions          []string `json:"extensions"`
		ExtensionNames      []string `json:"extension_names"`
		SupportedVersions   []string `json:"supported_versions"`
		SignatureAlgorithms []string `json:"signature_algorithms"`
		ALPNProtocols       []string `json:"alpn_protocols"`
		ServerName          *string  `json:"server_name"`
	}{
		LegacyVersion:       prefixedHex(h.LegacyVersion),
		CipherSuites:        prefixedHexList(h.CipherSuites),
		Extensions:          prefixedHexList(h.Extensions),
		ExtensionNames:      names,
		SupportedVersions:   prefixedHexList(h.SupportedVersions),
		SignatureAlgorithms: prefixedHexList(h.SignatureAlgorithms),
		ALPNProtocols:       append([]string{}, h.ALPNProtocols...),
		ServerName:          serverName,
	})
}

func prefixedHex(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

func prefixedHexList(in []uint16) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, prefixedHex(v))
	}
	return out
}
