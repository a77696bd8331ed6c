package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const (
	resultsRoot     = "results"
	adhocComponent  = "adhoc"
	resultExtension = ".parquet"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildResultPath returns results/<connection>/<conversation|adhoc>/<object>.parquet.
// A zero conversation id files the result under adhoc.
func BuildResultPath(connectionID, conversationID int64, objectID string) (string, error) {
	if connectionID <= 0 {
		return "", fmt.Errorf("connection id must be > 0")
	}
	if conversationID < 0 {
		return "", fmt.Errorf("conversation id must be >= 0")
	}
	if err := validatePathComponent(objectID, "object id"); err != nil {
		return "", err
	}
	conversation := adhocComponent
	if conversationID > 0 {
		conversation = strconv.FormatInt(conversationID, 10)
	}
	return path.Join(
		resultsRoot,
		strconv.FormatInt(connectionID, 10),
		conversation,
		objectID+resultExtension,
	), nil
}

// ValidateResultPath accepts only keys BuildResultPath could have produced.
func ValidateResultPath(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != resultsRoot || !strings.HasSuffix(parts[3], resultExtension) {
		return fmt.Errorf("invalid result path: %q", key)
	}
	for i, part := range parts[1:] {
		if i == 2 {
			part = strings.TrimSuffix(part, resultExtension)
		}
		if err := validatePathComponent(part, "result path component"); err != nil {
			return err
		}
	}
	return nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
