// Package domain – field validation helpers.
//
// Format rules live here so that both entity constructors and request
// validation share a single source of truth. All checks are pure functions.
package domain

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// isbnRE matches a hyphen/space-stripped ISBN-10 or ISBN-13 body.
	isbnRE = regexp.MustCompile(`^(97[89])?\d{9}[\dX]$`)

	// doiRE matches a DOI, e.g. "10.1000/xyz123".
	doiRE = regexp.MustCompile(`^10\.\d{4,}/\S+$`)

	// usernameRE matches allowed username characters (length checked apart).
	usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// NormalizeISBN strips hyphens and spaces and upper-cases a trailing x.
func NormalizeISBN(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	return strings.ToUpper(s)
}

// ValidISBN reports whether s is a well-formed ISBN-10 or ISBN-13, including
// the checksum digit. Hyphens and spaces are ignored.
func ValidISBN(s string) bool {
	n := NormalizeISBN(s)
	if !isbnRE.MatchString(n) {
		return false
	}
	switch len(n) {
	case 10:
		return validISBN10(n)
	case 13:
		return validISBN13(n)
	}
	return false
}

// validISBN10 checks the weighted mod-11 checksum. The final position may be
// 'X' (value 10).
func validISBN10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var v int
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

// validISBN13 checks the alternating 1/3 weighted mod-10 checksum. Every
// position must be a digit; 'X' is an ISBN-10 check character only.
func validISBN13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		v := int(c - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}

// ValidDOI reports whether s is a well-formed DOI.
func ValidDOI(s string) bool {
	return doiRE.MatchString(strings.TrimSpace(s))
}

// ValidURL reports whether s parses as an absolute http(s) URL.
func ValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidUsername reports whether s is 3–39 chars of [a-zA-Z0-9_-].
func ValidUsername(s string) bool {
	if len(s) < 3 || len(s) > 39 {
		return false
	}
	return usernameRE.MatchString(s)
}
