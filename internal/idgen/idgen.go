// Package idgen generates and checks identifiers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// ReferencePrefix marks checkout references minted by this service, so they
// stand out in the processor dashboard.
const ReferencePrefix = "bkh_"

// New generates a random (version 4) UUID string. Used for primary keys in
// the control plane and in every tenant schema.
func New() string {
	return uuid.NewString()
}

// Reference generates a checkout correlation id: the prefix followed by a
// UUID without dashes. Processor references allow only [A-Za-z0-9._=-].
func Reference() string {
	return ReferencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
