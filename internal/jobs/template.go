// Package jobs turns transfile templates into job specifications and
// submits them to a job registry.
package jobs

import (
	"fmt"
	"strings"
)

// FileKey is the transfile key naming the data file.
const FileKey = 'f'

const endMarker = "slut"

// ParseTemplate splits a transfile line such as "b=base,t=xml,c=utf8" into
// its single-character keys.
func ParseTemplate(line string) (map[rune]string, error) {
	fields := make(map[rune]string)
	for _, token := range strings.Split(strings.TrimSpace(line), ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key, value, ok := strings.Cut(token, "=")
		key = strings.TrimSpace(key)
		if !ok || len([]rune(key)) != 1 {
			return nil, fmt.Errorf("%w: token %q", ErrMalformedTemplate, token)
		}
		fields[[]rune(key)[0]] = strings.TrimSpace(value)
	}
	return fields, nil
}

// ValidateTemplate rejects empty templates and templates that already
// carry a file token.
func ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return ErrEmptyTemplate
	}
	fields, err := ParseTemplate(template)
	if err != nil {
		return err
	}
	if _, ok := fields[FileKey]; ok {
		return ErrTemplateHasFile
	}
	return nil
}

// GenerateTransfile writes one template line per file followed by the end
// marker.
func GenerateTransfile(template string, filenames []string) string {
	var sb strings.Builder
	for _, name := range filenames {
		sb.WriteString(template)
		sb.WriteString(",f=")
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	sb.WriteString(endMarker)
	return sb.String()
}
