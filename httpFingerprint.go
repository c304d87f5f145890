package ja4beacon

import (
	"strings"
	"unicode/utf8"
)

// Header is one request header line exactly as the client sent it.
type Header struct {
	Name  string
	Value string
}

// HTTPRequest is what JA4H needs from a request. Headers keep wire order and
// name case, and repeats (such as several Cookie lines) stay separate.
type HTTPRequest struct {
	Method     string
	ProtoMajor int
	ProtoMinor int
	Headers    []Header
}

// Get returns the first value of the named header, matched case
// insensitively.
func (r *HTTPRequest) Get(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (r *HTTPRequest) values(name string) []string {
	var out []string
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// JA4H builds the JA4H HTTP client fingerprint:
//
//	<method><version><cookie><referer><header count><lang>_<headers hash>_<cookie fields hash>_<cookie values hash>
//
// The header hash follows wire order, while both cookie hashes are sorted
// first, so cookie order never matters.
func JA4H(r *HTTPRequest) string {
	method := strings.ToLower(r.Method)
	if len(method) > 2 {
		method = method[:2]
	}

	version := "11"
	switch {
	case r.ProtoMajor >= 2:
		version = "20"
	case r.ProtoMinor == 0:
		version = "10"
	}

	cookies := r.values("Cookie")
	cookieFlag := "n"
	if len(cookies) > 0 {
		cookieFlag = "c"
	}
	refererFlag := "n"
	if _, ok := r.Get("Referer"); ok {
		refererFlag = "r"
	}

	names := make([]string, 0, len(r.Headers))
	for _, h := range r.Headers {
		if strings.HasPrefix(h.Name, ":") {
			continue
		}
		// Prefix match, so "Cookie-Consent" and friends drop out as well
		lower := strings.ToLower(h.Name)
		if strings.HasPrefix(lower, "cookie") || lower == "referer" {
			continue
		}
		names = append(names, h.Name)
	}

	lang := "0000"
	if acceptLanguage, ok := r.Get("Accept-Language"); ok && strings.TrimSpace(acceptLanguage) != "" {
		lang = languageCode(acceptLanguage)
	}

	fields, values := splitCookies(cookies)

	var b strings.Builder
	b.WriteString(method)
	b.WriteString(version)
	b.WriteString(cookieFlag)
	b.WriteString(refererFlag)
	b.WriteString(twoDigits(len(names)))
	b.WriteString(lang)
	b.WriteString("_")
	b.WriteString(ShortHash(strings.Join(names, ",")))
	b.WriteString("_")
	b.WriteString(hashList(sortedCopy(fields)))
	b.WriteString("_")
	b.WriteString(hashList(sortedCopy(values)))
	return b.String()
}

// languageCode squeezes the first Accept-Language entry into four
// characters, e.g. "en-US,en;q=0.9" becomes "enus".
func languageCode(header string) string {
	lang := strings.NewReplacer("-", "", ";", ",").Replace(header)
	lang, _, _ = strings.Cut(strings.ToLower(lang), ",")
	if utf8.RuneCountInString(lang) > 4 {
		lang = string([]rune(lang)[:4])
	}
	return lang + strings.Repeat("0", 4-utf8.RuneCountInString(lang))
}

// splitCookies collects cookie names and whole name=value pairs across all
// Cookie headers.
func splitCookies(headers []string) (fields, values []string) {
	for _, header := range headers {
		for _, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			values = append(values, part)

			field, _, _ := strings.Cut(part, "=")
			if field = strings.TrimSpace(field); field != "" {
				fields = append(fields, field)
			}
		}
	}
	return fields, values
}
