package sandbox

import (
	"regexp"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
)

var (
	selectPrefix = regexp.MustCompile(`(?i)^\s*select\b`)
	writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke)\b`)
)

// CheckStatement enforces the read-only allow-list. It never touches a database.
func CheckStatement(statement string) error {
	if strings.TrimSpace(statement) == "" {
		return apperr.StatementNotAllowed("empty statement")
	}
	if !selectPrefix.MatchString(statement) {
		return apperr.StatementNotAllowed("only SELECT statements are allowed")
	}
	if keyword := writeKeyword.FindString(statement); keyword != "" {
		return apperr.StatementNotAllowed("statement contains forbidden keyword " + strings.ToUpper(keyword))
	}
	return nil
}
