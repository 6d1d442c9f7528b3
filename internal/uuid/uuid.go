// Package uuid provides UUID v4 generation.
package uuid

import "github.com/google/uuid"

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}
