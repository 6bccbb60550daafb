package ake

import "fmt"

// minUsernameLen and maxUsernameLen bound the username carried in HELLO.
const (
	minUsernameLen = 3
	maxUsernameLen = 20
)

// validateUsername checks the length and character-class constraints:
// 3-20 characters, [A-Za-z0-9_].
func validateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fmt.Errorf("username length %d outside [%d, %d]", len(username), minUsernameLen, maxUsernameLen)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return fmt.Errorf("username contains disallowed character %q", r)
		}
	}
	return nil
}
