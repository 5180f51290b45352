package brokerv1

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBrokerNotFound is returned when a broker id is not in the registry.
var ErrBrokerNotFound = errors.New("broker not found")

// Broker represents a registered broker. Brokers are created on registration
// and never deleted.
type Broker struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url,omitempty"`

	// Balance is signed integer cents: cumulative sells minus buys over all
	// executed trades involving this broker.
	Balance int64 `json:"balance"`

	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// HashAPIKey returns the fixed-width hex SHA-256 digest used to index brokers
// by credential.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey generates a fresh broker API key.
func NewAPIKey() string {
	return "key-" + uuid.NewString()
}
