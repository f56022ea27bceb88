/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"errors"
	"fmt"
)

// ErrConfigurationUnavailable is returned (wrapped) when the configuration store cannot be read.
var ErrConfigurationUnavailable = errors.New("rate limit configuration is unavailable")

// InvalidValueError describes a malformed limit value. Such values are skipped during resolution.
type InvalidValueError struct {
	Scope     LimitType
	ID        string
	Dimension Dimension
	Value     string
}

func (e InvalidValueError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s value %s", e.Dimension, e.Value)
	}
	return fmt.Sprintf("invalid %s value %s in %s config %q", e.Dimension, e.Value, e.Scope, e.ID)
}
