package utils

import (
	"errors"
	"math"
	"testing"
	"time"

	"delaycast/internal/model"

	"github.com/stretchr/testify/assert"
)

// Test_ValidateTokenID tests the ValidateTokenID function with various inputs
func Test_ValidateTokenID(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		expectError bool
		errorMsg    string
	}{
		{
			name: "Valid long id",
			id:   "21742633143463906290569050155826241533067272736897614950488156847949938836455",
		},
		{
			name: "Valid short id",
			id:   "7",
		},
		{
			name:        "Empty id",
			id:          "",
			expectError: true,
			errorMsg:    "token id cannot be empty",
		},
		{
			name:        "Hex prefix",
			id:          "0x1234",
			expectError: true,
			errorMsg:    "unexpected 'x' at position 1",
		},
		{
			name:        "Whitespace",
			id:          "123 456",
			expectError: true,
			errorMsg:    "unexpected ' '",
		},
		{
			name:        "Negative",
			id:          "-1",
			expectError: true,
			errorMsg:    "position 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenID(tt.id)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// Test_ValidateTokenIDs tests quantity and format validation together
func Test_ValidateTokenIDs(t *testing.T) {
	tests := []struct {
		name       string
		ids        []string
		maxAllowed int
		wantErr    error
		errorMsg   string
	}{
		{
			name:       "Valid pair",
			ids:        []string{"111", "222"},
			maxAllowed: 2,
		},
		{
			name:       "No ids",
			ids:        nil,
			maxAllowed: 2,
			wantErr:    ErrNoTokens,
		},
		{
			name:       "Too many",
			ids:        []string{"1", "2", "3"},
			maxAllowed: 2,
			wantErr:    ErrTooManyTokens,
			errorMsg:   "requested 3 token ids, maximum allowed 2",
		},
		{
			name:       "Non-positive max",
			ids:        []string{"1"},
			maxAllowed: 0,
			wantErr:    ErrTooManyTokens,
			errorMsg:   "max allowed must be positive",
		},
		{
			name:       "Invalid id reports index",
			ids:        []string{"1", "abc"},
			maxAllowed: 2,
			errorMsg:   "invalid token id at index 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenIDs(tt.ids, tt.maxAllowed)
			if tt.wantErr == nil && tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
			if tt.errorMsg != "" {
				assert.Contains(t, err.Error(), tt.errorMsg)
			}
		})
	}
}

// Test_DelayFromSeconds tests the supported delay range
func Test_DelayFromSeconds(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
		wantErr bool
	}{
		{name: "Zero", seconds: 0, want: 0},
		{name: "Typical", seconds: 45, want: 45 * time.Second},
		{name: "Maximum", seconds: 600, want: 10 * time.Minute},
		{name: "Above maximum", seconds: 601, wantErr: true},
		{name: "Negative", seconds: -1, wantErr: true},
		{name: "Wraps when multiplied", seconds: 18446744074, wantErr: true},
		{name: "Largest int", seconds: math.MaxInt, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DelayFromSeconds(tt.seconds)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDelay)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Test_ParseOutcome tests case-insensitive outcome parsing
func Test_ParseOutcome(t *testing.T) {
	tests := []struct {
		in      string
		want    model.Outcome
		wantErr bool
	}{
		{in: "yes", want: model.OutcomeYes},
		{in: "YES", want: model.OutcomeYes},
		{in: " No ", want: model.OutcomeNo},
		{in: "maybe", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutcome(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
