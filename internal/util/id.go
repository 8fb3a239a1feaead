package util

import "github.com/google/uuid"

// NewID returns a random identifier for requests and log correlation.
func NewID() string {
	return uuid.NewString()
}
