package randutil

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const APIKeyPrefix = "cap_"

func RandomString(length int) (string, error) {
	key := make([]byte, length)

	if _, err := rand.Read(key); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(key), nil
}

// NewAPIKey returns a fresh bearer key with a recognisable prefix.
func NewAPIKey() (string, error) {
	key, err := RandomString(32)
	if err != nil {
		return "", err
	}

	return APIKeyPrefix + key, nil
}

func MaskString(apiKey string, visibleStart, visibleEnd int) string {
	if len(apiKey) <= visibleStart+visibleEnd {
		return apiKey
	}

	start := apiKey[:visibleStart]
	end := apiKey[len(apiKey)-visibleEnd:]
	return start + strings.Repeat("*", len(apiKey)-(visibleStart+visibleEnd)) + end
}
