package models

import (
	"fmt"
	"regexp"
)

// slugRE is the tenant identity rule: URL-safe, 2-64 chars, must start with
// an alphanumeric. Case-insensitive so webhook paths survive client folding.
var slugRE = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9_-]{1,63}$`)

// ValidSlug reports whether s is an acceptable tenant slug.
func ValidSlug(s string) bool {
	return slugRE.MatchString(s)
}

// ValidateSlug returns a descriptive error for invalid slugs.
func ValidateSlug(s string) error {
	if !ValidSlug(s) {
		return fmt.Errorf("invalid slug %q: must match %s", s, slugRE.String())
	}
	return nil
}
