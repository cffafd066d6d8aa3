package validation

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	maxFingerprintLength = 256
	maxKeyLength         = 128
)

// Fingerprint checks the opaque client fingerprint is present and printable.
func Fingerprint(fp string) error {
	if strings.TrimSpace(fp) == "" {
		return fmt.Errorf("userFingerprint is required")
	}
	if len(fp) > maxFingerprintLength {
		return fmt.Errorf("userFingerprint must be at most %d characters", maxFingerprintLength)
	}
	if !printable(fp) {
		return fmt.Errorf("userFingerprint contains invalid characters")
	}
	return nil
}

// Key checks a presented key is present and of plausible size.
func Key(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key must be at most %d characters", maxKeyLength)
	}
	if !printable(key) {
		return fmt.Errorf("key contains invalid characters")
	}
	return nil
}

// RequiredTasks validates a configured task list: non-empty names, no
// duplicates.
func RequiredTasks(tasks []string) error {
	if len(tasks) == 0 {
		return fmt.Errorf("required tasks cannot be empty")
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if strings.TrimSpace(task) == "" {
			return fmt.Errorf("required task names cannot be blank")
		}
		if _, exists := seen[task]; exists {
			return fmt.Errorf("duplicate task %q is not allowed", task)
		}
		seen[task] = struct{}{}
	}
	return nil
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
