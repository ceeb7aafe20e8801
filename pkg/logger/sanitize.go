package logger

import (
	"strings"
)

// sensitiveQueryKeys are matched as substrings of lowercased query keys
var sensitiveQueryKeys = []string{
	"password",
	"token",
	"secret",
	"code",
	"otp",
	"recovery",
	"email",
	"auth",
}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}
	local, domain := email[:at], email[at+1:]

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return local + "@" + strings.Join(labels, ".")
}

// SanitizeQueryString reports whether any query key looks like it carries a
// credential, in which case the whole query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		key, _, _ := strings.Cut(pair, "=")
		key = strings.ToLower(key)
		for _, s := range sensitiveQueryKeys {
			if strings.Contains(key, s) {
				return true
			}
		}
	}
	return false
}
