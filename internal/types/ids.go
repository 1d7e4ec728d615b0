// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type AttemptID string

func NewAttemptID() AttemptID {
	return AttemptID(uuid.New().String())
}
