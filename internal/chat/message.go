package chat

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
)

// FromDocument normalizes a remote chat document. Missing fields take zero values.
func FromDocument(document store.Document) Message {
	text, _ := document.Fields[FieldText].(string)
	isMine, _ := document.Fields[FieldIsMine].(bool)
	return Message{
		ID:        document.ID,
		Text:      text,
		Timestamp: timestampMillis(document.Fields[FieldTimestamp]),
		IsMine:    isMine,
	}
}

func timestampMillis(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0
		}
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case time.Time:
		return typed.UnixMilli()
	}
	return 0
}

// AdminFlag reports the advisory admin flag of the local cache.
type AdminFlag interface {
	AdminEnabled() bool
}

// AdminFlagPolicy allows deletion while the local admin flag is set.
// The flag is client-writable, so this is a display gate rather than authorization.
func AdminFlagPolicy(flag AdminFlag) DeletePolicy {
	return DeletePolicyFunc(func(context.Context, string, string) bool {
		return flag.AdminEnabled()
	})
}
