package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AccountUpdate lists the SocialAccount fields callers may change. Nil fields
// are left untouched.
type AccountUpdate struct {
	DisplayName *string          `json:"display_name,omitempty"`
	AvatarURL   *string          `json:"avatar_url,omitempty"`
	AccountType *string          `json:"account_type,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
	Metadata    *AccountMetadata `json:"metadata,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.DisplayName == nil && u.AvatarURL == nil && u.AccountType == nil &&
		u.IsActive == nil && u.Metadata == nil
}

var updatableAccountFields = map[string]struct{}{
	"display_name": {},
	"avatar_url":   {},
	"account_type": {},
	"is_active":    {},
	"metadata":     {},
}

// DecodeAccountUpdate parses a JSON object of account changes. Fields outside
// the whitelist, such as user_id or platform, are rejected.
func DecodeAccountUpdate(data []byte) (AccountUpdate, error) {
	var update AccountUpdate

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return update, ValidationError{Field: "updates", Message: "must be a JSON object"}
	}

	var rejected []string
	for key := range raw {
		if _, ok := updatableAccountFields[key]; !ok {
			rejected = append(rejected, key)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return update, ValidationError{
			Field:   strings.Join(rejected, ","),
			Message: "field cannot be updated",
		}
	}

	if value, ok := raw["is_active"]; ok && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return update, ValidationError{Field: "is_active", Message: "must be a boolean"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		return update, ValidationError{Field: "updates", Message: err.Error()}
	}

	if update.Empty() {
		return update, ValidationError{Field: "updates", Message: "no updatable fields provided"}
	}

	return update, nil
}
