package checkpoint

import "strings"

// isUniqueViolation matches the unique-constraint error text across the
// three supported dialects, following internal/database/pool.go's
// substring-matching style for isRetryableError.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	substrings := []string{
		"unique constraint",
		"duplicate key",
		"duplicate entry",
		"unique_violation",
		"sqlstate 23505",
		"constraint failed: unique",
	}
	for _, s := range substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
