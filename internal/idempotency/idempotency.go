// Package idempotency derives and parses the exchange client_order_id the
// core stamps on every order it places, so orders observed on the stream
// can be matched back to their originating command.
package idempotency

import (
	"errors"
	"strings"
)

// ClientOrderPrefix is the fixed prefix identifying orders this core placed.
const ClientOrderPrefix = "ae"

// ErrEmptyCommandID is returned by MakeClientOrderID when given an empty id.
var ErrEmptyCommandID = errors.New("idempotency: command_id must not be empty")

// MakeClientOrderID returns the deterministic client_order_id for a command:
// exactly "ae-" + command_id.
func MakeClientOrderID(commandID string) (string, error) {
	if commandID == "" {
		return "", ErrEmptyCommandID
	}
	return ClientOrderPrefix + "-" + commandID, nil
}

// ParseClientOrderID extracts the command_id from a client_order_id, or
// returns ok=false if it doesn't match the "ae-" prefix or is empty after it.
func ParseClientOrderID(clientOrderID string) (commandID string, ok bool) {
	if clientOrderID == "" {
		return "", false
	}
	prefix := ClientOrderPrefix + "-"
	if !strings.HasPrefix(clientOrderID, prefix) {
		return "", false
	}
	rest := clientOrderID[len(prefix):]
	if rest == "" {
		return "", false
	}
	return rest, true
}

// IsAlphaEngineOrder reports whether clientOrderID was generated by this core.
func IsAlphaEngineOrder(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, ClientOrderPrefix+"-")
}

// ValidateClientOrderID reports whether clientOrderID is well-formed.
func ValidateClientOrderID(clientOrderID string) bool {
	_, ok := ParseClientOrderID(clientOrderID)
	return ok
}
