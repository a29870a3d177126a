package utils

import "strings"

// NormalizeEmail trims and lowercases an address so account logins and
// guest attendee lookups match regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
