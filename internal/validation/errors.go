package validation

import (
	"sort"
	"strings"
)

// Field names as they appear in request payloads and in field-keyed error maps.
const (
	FieldUsername  = "username"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldPhone     = "phone"
	FieldImage     = "image"
)

// Errors aggregates human-readable rejection reasons keyed by field.
// Uniqueness conflicts are reported through the same map so the API error
// contract stays field-keyed.
type Errors map[string][]string

// Add appends a reason to the given field.
func (e Errors) Add(field, reason string) {
	e[field] = append(e[field], reason)
}

// Empty reports whether no field was rejected.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Error implements error. The canonical representation for clients is the
// map itself; this string form only serves logs.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation: no errors"
	}

	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e[field], "; "))
	}
	return "validation: " + strings.Join(parts, ", ")
}
