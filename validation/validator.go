package validation

import (
	"fmt"
	"net"
	"strings"

	"github.com/kbukum/regd/errors"
)

// FieldError is one failed check, reported under its JSON field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator runs checks in a chain and keeps every failure, so a client
// fixing a bad registration sees all problems at once.
type Validator struct {
	errors []FieldError
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{}
}

func (v *Validator) fail(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

// Errors returns the failures in the order they were found.
func (v *Validator) Errors() []FieldError { return v.errors }

// Required fails on empty or whitespace-only values.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.fail(field, "is required")
	}
	return v
}

// MaxLength fails when value is longer than n bytes.
func (v *Validator) MaxLength(field, value string, n int) *Validator {
	if len(value) > n {
		return v.fail(field, "must be %d characters or less", n)
	}
	return v
}

// Identifier fails when value contains whitespace, control characters or
// '/', which would break registry keys and watch patterns. Empty values
// are left to Required.
func (v *Validator) Identifier(field, value string) *Validator {
	if i := invalidIdentifierAt(value); i >= 0 {
		return v.fail(field, "contains invalid character %q", value[i])
	}
	return v
}

func invalidIdentifierAt(s string) int {
	return strings.IndexFunc(s, func(r rune) bool {
		return r <= ' ' || r == '/' || r == 0x7f
	})
}

// Host fails unless value is an IP literal or a syntactically valid DNS
// name. Empty values are left to Required.
func (v *Validator) Host(field, value string) *Validator {
	if value != "" && !validHost(value) {
		return v.fail(field, "is not a valid host name")
	}
	return v
}

func validHost(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	if len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(s string) bool {
	if s == "" || len(s) > 63 || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// Range fails when value is outside [lo, hi].
func (v *Validator) Range(field string, value, lo, hi int) *Validator {
	if value < lo || value > hi {
		return v.fail(field, "must be between %d and %d", lo, hi)
	}
	return v
}

// OneOf fails when a non-empty value is not in allowed.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	return v.fail(field, "must be one of: %s", strings.Join(allowed, ", "))
}

// Metadata bounds the number of entries and the size of each key and value.
func (v *Validator) Metadata(field string, md map[string]string, maxEntries, maxLen int) *Validator {
	if len(md) > maxEntries {
		return v.fail(field, "must have at most %d entries", maxEntries)
	}
	for k, val := range md {
		switch {
		case strings.TrimSpace(k) == "":
			return v.fail(field, "keys must not be empty")
		case len(k) > maxLen:
			return v.fail(field+"."+k, "key must be %d characters or less", maxLen)
		case len(val) > maxLen:
			return v.fail(field+"."+k, "must be %d characters or less", maxLen)
		}
	}
	return v
}

// Custom fails with message unless ok holds.
func (v *Validator) Custom(ok bool, field, message string) *Validator {
	if !ok {
		return v.fail(field, "%s", message)
	}
	return v
}

// Validate returns nil when every check passed, otherwise a
// MALFORMED_INPUT error listing the failures under "fields".
func (v *Validator) Validate() *errors.AppError {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		if e := v.errors[0]; e.Message == "is required" {
			return errors.MissingField(e.Field).WithDetail("fields", v.errors)
		}
	}
	parts := make([]string, len(v.errors))
	for i, e := range v.errors {
		parts[i] = e.Field + ": " + e.Message
	}
	return errors.MalformedInput(strings.Join(parts, "; ")).WithDetail("fields", v.errors)
}

// Err is Validate as a plain error, nil when valid.
func (v *Validator) Err() error {
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}
