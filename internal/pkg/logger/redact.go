package logger

import "strings"

// RedactEmail masks the local part of an address so recipient identity
// never lands in logs while the domain stays visible for deliverability
// triage. "alice.smith@example.com" → "al***@example.com"; local parts
// of two characters or fewer mask entirely. Anything that does not look
// like an address masks wholesale.
func RedactEmail(email string) string {
	if strings.Count(email, "@") != 1 {
		return "***@***"
	}
	at := strings.Index(email, "@")
	local, domain := email[:at], email[at+1:]
	if domain == "" {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
