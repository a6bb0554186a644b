package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// SplitEmployeeKey splits an employee_id_employee_name grouping key at
// the first underscore. Ids never contain underscores; names may.
func SplitEmployeeKey(key string) (id, name string, err error) {
	id, name, found := strings.Cut(key, "_")
	if !found || id == "" || name == "" {
		return "", "", fmt.Errorf("malformed employee key %q: want employee_id_employee_name", key)
	}
	return id, name, nil
}

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// SanitizeName strips control characters from a string destined for a
// filesystem path component.
func SanitizeName(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
