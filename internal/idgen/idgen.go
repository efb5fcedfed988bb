package idgen

import "github.com/google/uuid"

type Generator interface {
	NewID() string
}

// UUID hands out random (v4) UUIDs.
type UUID struct{}

func (UUID) NewID() string {
	return uuid.New().String()
}
