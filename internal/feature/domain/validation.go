package domain

import (
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

const (
	MaxKeyLength    = 64
	MaxUserIDLength = 128
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// NormalizeKey lowercases and validates a feature key.
func NormalizeKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" || len(key) > MaxKeyLength || !keyPattern.MatchString(key) {
		return "", ErrInvalidKey
	}
	return key, nil
}

// KeyFromName derives a feature key from a display name, e.g.
// "Video Analysis" becomes "video-analysis".
func KeyFromName(name string) string {
	key := slug.Make(name)
	if len(key) > MaxKeyLength {
		key = strings.TrimRight(key[:MaxKeyLength], "-_.")
	}
	return key
}

// NormalizeUserID trims and validates a principal identifier.
func NormalizeUserID(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" || len(userID) > MaxUserIDLength {
		return "", ErrInvalidUser
	}
	return userID, nil
}
