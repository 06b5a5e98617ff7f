package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.zapboard/sessions, so the
// character set is restricted accordingly.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that a session name is usable.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use lowercase letters, digits, - and _ (max 64 chars)", name)
	}
	return nil
}
