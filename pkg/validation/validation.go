package validation

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	return emailRegex.MatchString(email)
}

// EmailDomain extracts the lowercased domain part of an address.
// Returns "" if the address has no domain.
func EmailDomain(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// DomainAllowed reports whether the address domain matches one of the
// allowed domains. A match is either exact or a dot-boundary suffix, so
// "cs.example.edu" matches an allow-list entry "example.edu" but
// "notexample.edu" does not.
func DomainAllowed(email string, allowed []string) bool {
	domain := EmailDomain(email)
	if domain == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
