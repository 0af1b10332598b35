// Package utils provides common validation helpers shared by the transports,
// the controller and the HTTP surface.
//
// Polymarket CLOB token ids are large unsigned decimal integers encoded as
// strings; the helpers here check their shape and bound how many can be
// subscribed at once. Settings helpers validate the user-controlled delay and
// outcome selection.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"delaycast/internal/model"
)

// Error definitions for validation functions
var (
	ErrNoTokens      = errors.New("zero token ids requested")
	ErrTooManyTokens = errors.New("too many token ids requested")
	ErrInvalidDelay  = errors.New("invalid delay")
)

// MaxDelay is the largest supported display delay.
const MaxDelay = 600 * time.Second

// ValidateTokenID checks that id is a non-empty string of decimal digits.
func ValidateTokenID(id string) error {
	if id == "" {
		return errors.New("token id cannot be empty")
	}

	for i, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid token id %q: unexpected %q at position %d", id, r, i)
		}
	}

	return nil
}

// ValidateTokenIDs validates a slice of token ids and enforces quantity limits.
//
// This function performs two types of validation:
//  1. Quantity validation: the number of ids must be within 1..maxAllowed
//  2. Format validation: every id must pass ValidateTokenID
func ValidateTokenIDs(ids []string, maxAllowed int) error {
	if len(ids) == 0 {
		return ErrNoTokens
	}

	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d",
			ErrTooManyTokens, maxAllowed)
	}

	if len(ids) > maxAllowed {
		return fmt.Errorf("%w: requested %d token ids, maximum allowed %d",
			ErrTooManyTokens, len(ids), maxAllowed)
	}

	for i, id := range ids {
		if err := ValidateTokenID(id); err != nil {
			return fmt.Errorf("invalid token id at index %d: %w", i, err)
		}
	}

	return nil
}

// DelayFromSeconds converts a user supplied delay into a duration within 0..MaxDelay.
func DelayFromSeconds(seconds int) (time.Duration, error) {
	maxSeconds := int(MaxDelay / time.Second)
	if seconds < 0 || seconds > maxSeconds {
		return 0, fmt.Errorf("%w: %ds is outside 0..%ds", ErrInvalidDelay, seconds, maxSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// ParseOutcome accepts "yes" or "no" in any case.
func ParseOutcome(s string) (model.Outcome, error) {
	o := model.Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unsupported outcome %q (supported: %s, %s)", s, model.OutcomeYes, model.OutcomeNo)
	}
	return o, nil
}
