// Package validation checks raw client input before it reaches the
// registry.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"emittr/fourinarow/internal/game"
)

const (
	MinUsernameLen = 2
	MaxUsernameLen = 20
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Rules is the default lobby.Validator.
type Rules struct{}

// Username trims raw and checks length and charset.
func (Rules) Username(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: username is required", game.ErrInvalidUsername)
	case len(name) < MinUsernameLen || len(name) > MaxUsernameLen:
		return "", fmt.Errorf("%w: username must be %d-%d characters", game.ErrInvalidUsername, MinUsernameLen, MaxUsernameLen)
	case !usernamePattern.MatchString(name):
		return "", fmt.Errorf("%w: username may only contain letters, digits, '_' and '-'", game.ErrInvalidUsername)
	}
	return name, nil
}

// Column converts a decoded JSON value to a column index. Range checks are
// left to the session so that a finished game reports itself first.
func (Rules) Column(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %v is not an integer", game.ErrInvalidColumn, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", game.ErrInvalidColumn, v.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", game.ErrInvalidColumn, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: missing or non-numeric column", game.ErrInvalidColumn)
}
