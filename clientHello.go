package ja4beacon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

var (
	// ErrNeedMoreData means the buffer ends before a complete ClientHello.
	// It is not a failure, the caller should try again with more bytes.
	ErrNeedMoreData = errors.New("need more data")
	// ErrMalformed is returned for input that can never become a ClientHello
	ErrMalformed = errors.New("malformed client hello")
	// ErrCaptureLimit is returned once MaxCaptureBytes have been buffered
	// without a complete ClientHello turning up
	ErrCaptureLimit = errors.New("capture limit reached before client hello completed")
)

// TryParse looks for the ClientHello at the start of a raw TLS byte stream.
// buf is everything the client has sent so far and TryParse never reads past
// it, so it can be called again each time more bytes arrive. The result only
// depends on the bytes, never on how they were chunked.
//
// Records that are not handshakes are skipped, and a ClientHello split across
// several handshake records is put back together first.
func TryParse(buf []byte) (*ClientHello, error) {
	hello, err := tryParse(buf)
	if errors.Is(err, ErrNeedMoreData) && len(buf) >= MaxCaptureBytes {
		return nil, fmt.Errorf("%w: buffered=[%d]", ErrCaptureLimit, len(buf))
	}
	return hello, err
}

func tryParse(buf []byte) (*ClientHello, error) {
	var pending []byte

	rest := buf
	for len(rest) >= recordHeaderLength {
		contentType := rest[0]
		switch contentType {
		case RecordTypeHandshake:
		case RecordTypeChangeCipherSpec, RecordTypeAlert, RecordTypeApplicationData, RecordTypeHeartbeat:
		default:
			return nil, fmt.Errorf("%w: record type=[%d] is not TLS framing", ErrMalformed, contentType)
		}

		recordEnd := recordHeaderLength + int(binary.BigEndian.Uint16(rest[3:5]))
		if len(rest) < recordEnd {
			return nil, ErrNeedMoreData
		}
		// Capacity is capped so appending never writes into the caller's buffer
		payload := rest[recordHeaderLength:recordEnd:recordEnd]
		rest = rest[recordEnd:]

		if contentType != RecordTypeHandshake {
			continue
		}
		if pending == nil {
			pending = payload
		} else {
			pending = append(pending, payload...)
		}

		for len(pending) >= handshakeHeaderLength {
			msgType := pending[0]
			msgEnd := handshakeHeaderLength + (int(pending[1])<<16 | int(pending[2])<<8 | int(pending[3]))
			if len(pending) < msgEnd {
				break
			}
			body := pending[handshakeHeaderLength:msgEnd]
			pending = pending[msgEnd:]

			if msgType != HandshakeTypeClientHello {
				continue
			}
			return parseClientHelloBody(body)
		}
	}
	return nil, ErrNeedMoreData
}

// parseClientHelloBody decodes a complete ClientHello message. Since every
// byte of the message is present, a length that overruns it is malformed
// rather than incomplete.
func parseClientHelloBody(body []byte) (*ClientHello, error) {
	var (
		hello       = &ClientHello{}
		msg         = cryptobyte.String(body)
		sessionID   cryptobyte.String
		ciphers     cryptobyte.String
		compression cryptobyte.String
		extensions  cryptobyte.String
	)

	if !msg.ReadUint16(&hello.LegacyVersion) || !msg.Skip(randomLength) {
		return nil, fmt.Errorf("%w: client hello too short, length=[%d]", ErrMalformed, len(body))
	}
	if !msg.ReadUint8LengthPrefixed(&sessionID) {
		return nil, fmt.Errorf("%w: could not read session id", ErrMalformed)
	}
	if !msg.ReadUint16LengthPrefixed(&ciphers) {
		return nil, fmt.Errorf("%w: could not read ciphersuites", ErrMalformed)
	}
	hello.CipherSuites = readUint16s(ciphers)

	if !msg.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("%w: could not read compression methods", ErrMalformed)
	}

	// No extensions at all is a perfectly good (if old fashioned) hello
	if msg.Empty() {
		return hello, nil
	}

	if !msg.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("%w: extension block overruns message, remaining=[%d]", ErrMalformed, len(msg))
	}

	for len(extensions) >= 4 {
		var (
			extensionType uint16
			extContent    cryptobyte.String
		)
		extensions.ReadUint16(&extensionType)
		// An overrunning extension ends the scan, what we have so far stands
		if !extensions.ReadUint16LengthPrefixed(&extContent) {
			break
		}
		hello.handleExtension(extensionType, extContent)
	}

	return hello, nil
}
