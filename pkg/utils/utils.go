package utils

import (
	"crypto/rand"
	"encoding/hex"
	"net/mail"
	"time"
)

// GenerateID returns a random 32-char hex id.
func GenerateID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// FormatTime renders a timestamp for logs and API payloads.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// ValidEmail reports whether s parses as an address.
func ValidEmail(s string) bool {
	if s == "" {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}
