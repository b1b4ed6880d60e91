package onboarding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldError rejects a single onboarding answer. The reason is shown to
// the tenant and recorded as a validation event; it never contains the
// submitted value for secret fields.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var keyPattern = regexp.MustCompile(`^sk-[A-Za-z0-9_-]{8,}$`)

func validateHost(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, " \t") || !strings.Contains(v, ".") {
		return "", &FieldError{Field: "store_host", Reason: "enter a hostname like db.example.com"}
	}
	return v, nil
}

func validatePort(v string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || port <= 0 || port >= 65536 {
		return 0, &FieldError{Field: "store_port", Reason: "enter a port between 1 and 65535"}
	}
	return port, nil
}

func validateDatabase(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &FieldError{Field: "store_database", Reason: "database name cannot be empty"}
	}
	return v, nil
}

func validateUser(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &FieldError{Field: "store_user", Reason: "user name cannot be empty"}
	}
	return v, nil
}

func validatePassword(v string) (string, error) {
	if len(v) < 6 {
		return "", &FieldError{Field: "store_password", Reason: "password must be at least 6 characters"}
	}
	return v, nil
}

func validateProviderKey(v string) (string, error) {
	v = strings.TrimSpace(v)
	if !keyPattern.MatchString(v) {
		return "", &FieldError{Field: "provider_key", Reason: "that does not look like a provider API key (sk-...)"}
	}
	return v, nil
}
