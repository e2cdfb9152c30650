package policy

import (
	"regexp"
	"strings"
)

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]*`)
)

// RedactSecrets masks the given secret values, bearer headers and compact JWTs
// in a message that may reach logs or an HTTP body.
func RedactSecrets(input string, secrets ...string) (redacted string, changed bool) {
	out := input
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		// Very short values would mask unrelated text.
		if len(s) < 4 {
			continue
		}
		next := strings.ReplaceAll(out, s, "[REDACTED_SECRET]")
		changed = changed || next != out
		out = next
	}

	next := bearerPattern.ReplaceAllString(out, "Bearer [REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	next = jwtPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	return out, changed
}
