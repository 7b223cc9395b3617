package db

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// NewID returns a fresh UUID string for entity primary keys.
func NewID() string {
	return uuid.NewString()
}

// SplitToken parses a presented API token of the form "<key-id>.<secret>".
func SplitToken(token string) (keyID, secret string, err error) {
	keyID, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || keyID == "" || secret == "" {
		return "", "", errors.New("token must be of the form <key-id>.<secret>")
	}
	return keyID, secret, nil
}

// HashSecret hashes the secret half of an API token for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AuthenticateToken resolves a presented token to its active APIKey, or a nil
// key when the token is unknown or the secret does not match. The caller
// should treat both the same way.
func AuthenticateToken(db *gorm.DB, token string) (*APIKey, error) {
	keyID, secret, err := SplitToken(token)
	if err != nil {
		return nil, nil
	}

	var key APIKey
	if err := db.Where("key_id = ? AND active = ?", keyID, true).Preload("Tenant").Limit(1).Find(&key).Error; err != nil {
		return nil, err
	}
	if key.ID == 0 || !key.Tenant.Active {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return nil, nil
	}
	return &key, nil
}
