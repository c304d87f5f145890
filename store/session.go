package store

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxSessionIDLength is the longest session id, in characters, that is accepted
const MaxSessionIDLength = 256

// ErrInvalidSession is returned for session ids that cannot be used as keys
var ErrInvalidSession = errors.New("invalid session id")

// NormalizeSessionID turns the raw, still escaped path segment a client sent
// into a store key. Query escaping rules apply, so "+" decodes to a space.
func NormalizeSessionID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: raw=[%s]", ErrInvalidSession, raw)
	}

	decoded, err := url.QueryUnescape(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidSession, err)
	}
	if decoded == "" || strings.Contains(decoded, "/") {
		return "", fmt.Errorf("%w: decoded=[%s]", ErrInvalidSession, decoded)
	}
	if utf8.RuneCountInString(decoded) > MaxSessionIDLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidSession, MaxSessionIDLength)
	}
	return decoded, nil
}
