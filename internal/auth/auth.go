package auth

import (
	"context"
	"fmt"
	"strings"
)

type Method string

const (
	MethodStaticKey Method = "static_key"
	MethodJWT       Method = "jwt"
	MethodHeader    Method = "header"
)

// Identity is the caller a request acts for. Only the user id reaches the
// domain; Method records how it was established.
type Identity struct {
	UserID string
	Method Method
}

type Validator interface {
	Validate(ctx context.Context, credential string) (Identity, bool)
}

type StaticKeyValidator struct {
	keys map[string]Identity
}

// NewStaticKeyValidator parses a comma separated key:user_id list.
func NewStaticKeyValidator(spec string) (*StaticKeyValidator, error) {
	validator := &StaticKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:user_id", entry)
		}
		key := strings.TrimSpace(parts[0])
		userID := strings.TrimSpace(parts[1])
		if key == "" || userID == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/user id", entry)
		}
		validator.keys[key] = Identity{UserID: userID, Method: MethodStaticKey}
	}
	return validator, nil
}

func (v *StaticKeyValidator) Validate(_ context.Context, credential string) (Identity, bool) {
	identity, ok := v.keys[credential]
	return identity, ok
}

// Chain tries each validator in order and returns the first match.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, credential string) (Identity, bool) {
	for _, validator := range c {
		if validator == nil {
			continue
		}
		if identity, ok := validator.Validate(ctx, credential); ok {
			return identity, true
		}
	}
	return Identity{}, false
}
