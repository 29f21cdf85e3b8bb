package domain

import (
	"regexp"
	"strings"
	"time"
)

// Recipient is a member of a campaign's audience. ID is stable across
// imports (typically the normalized email address or an upstream
// contact ID) and feeds the deterministic send record key.
type Recipient struct {
	ID        string            `json:"id" db:"id"`
	Email     string            `json:"email" db:"email"`
	FirstName string            `json:"first_name,omitempty" db:"first_name"`
	LastName  string            `json:"last_name,omitempty" db:"last_name"`
	Fields    map[string]string `json:"fields,omitempty" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

var recipientEmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s looks like a deliverable address.
// Matches the validation applied during list import, so a recipient
// that imports cleanly also passes pre-send validation.
func ValidEmail(s string) bool {
	return recipientEmailRegex.MatchString(strings.TrimSpace(s))
}

// NormalizeEmail lowercases and trims an address for use as a stable key.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MergeVars flattens the recipient into template variables for
// personalization. Custom fields never shadow the built-ins.
func (r Recipient) MergeVars() map[string]any {
	vars := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		vars[k] = v
	}
	vars["email"] = r.Email
	vars["first_name"] = r.FirstName
	vars["last_name"] = r.LastName
	return vars
}
