package docstore

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider issues time-ordered document ids: a UUIDv7 as 32 hex characters,
// so generated ids are valid single path segments and sort by creation.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(value[:]), nil
	})
}
