package ja4beacon

import (
	"golang.org/x/crypto/cryptobyte"
)

// handleExtension records the extension type and pulls out the few bodies
// the fingerprints need. Lists inside an extension are clamped to the
// extension body, so a bad inner length only loses that extension's data.
func (h *ClientHello) handleExtension(extensionType uint16, extContent cryptobyte.String) {
	// Every type counts, even ones we never look inside
	h.Extensions = append(h.Extensions, extensionType)

	switch extensionType {
	case ExtServerName:
		list, ok := readClamped(&extContent, 2)
		if !ok {
			return
		}
		for len(list) >= 3 {
			var (
				nameType uint8
				name     cryptobyte.String
			)
			list.ReadUint8(&nameType)
			if !list.ReadUint16LengthPrefixed(&name) {
				break
			}
			// Host Type, the only one anyone has ever defined
			if nameType == sniHostName {
				h.ServerName = string(name)
				h.HasServerName = true
				break
			}
		}

	case ExtALPN:
		list, ok := readClamped(&extContent, 2)
		if !ok {
			return
		}
		// Only the first protocol feeds the fingerprint, so stop there
		var proto cryptobyte.String
		if list.ReadUint8LengthPrefixed(&proto) {
			h.ALPNProtocols = []string{string(proto)}
		}

	case ExtSupportedVersions:
		list, ok := readClamped(&extContent, 1)
		if !ok {
			return
		}
		h.SupportedVersions = readUint16s(list)

	case ExtSignatureAlgorithms:
		list, ok := readClamped(&extContent, 2)
		if !ok {
			return
		}
		h.SignatureAlgorithms = readUint16s(list)
	}
}
