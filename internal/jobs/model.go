// Package jobs models job postings replicated from the remote store.
package jobs

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
)

const (
	// CollectionName is the remote collection holding job postings.
	CollectionName = "jobs"
	// DefaultTitle replaces a missing or blank title.
	DefaultTitle = "Untitled Job"

	FieldTitle     = "title"
	FieldRaw       = "raw"
	FieldApply     = "apply"
	FieldViews     = "views"
	FieldApplies   = "applies"
	FieldCreatedAt = "createdAt"
)

// Job is a normalized job posting. The JSON layout is the local cache wire format.
type Job struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Raw       string `json:"raw"`
	Apply     string `json:"apply"`
	Views     int64  `json:"views"`
	Applies   int64  `json:"applies"`
	CreatedAt int64  `json:"createdAt"`
}

// DocumentPath returns the remote path of the job document.
func DocumentPath(id string) string {
	return store.Join(CollectionName, id)
}

// FromDocument normalizes a remote document, applying field defaults for anything missing or malformed.
func FromDocument(document store.Document) Job {
	return FromFields(document.ID, document.Fields)
}

// FromFields normalizes raw field values keyed by the remote field names.
func FromFields(id string, fields map[string]any) Job {
	title := stringField(fields[FieldTitle])
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return Job{
		ID:        id,
		Title:     title,
		Raw:       stringField(fields[FieldRaw]),
		Apply:     stringField(fields[FieldApply]),
		Views:     counterField(fields[FieldViews]),
		Applies:   counterField(fields[FieldApplies]),
		CreatedAt: timestampField(fields[FieldCreatedAt]),
	}
}

// Normalize re-applies field defaults to a job decoded from an untrusted source.
func (job Job) Normalize() Job {
	if strings.TrimSpace(job.Title) == "" {
		job.Title = DefaultTitle
	}
	if job.Views < 0 {
		job.Views = 0
	}
	if job.Applies < 0 {
		job.Applies = 0
	}
	if job.CreatedAt < 0 {
		job.CreatedAt = 0
	}
	return job
}

func stringField(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case nil:
		return ""
	case json.Number:
		return typed.String()
	case bool, int, int64, float64:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return ""
	}
}

func counterField(value any) int64 {
	number, ok := numberField(value)
	if !ok || number < 0 {
		return 0
	}
	return number
}

func timestampField(value any) int64 {
	if moment, ok := value.(time.Time); ok {
		if moment.IsZero() {
			return 0
		}
		return moment.UnixMilli()
	}
	number, ok := numberField(value)
	if !ok || number < 0 {
		return 0
	}
	return number
}

func numberField(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case float32:
		return floatToInt(float64(typed))
	case float64:
		return floatToInt(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed, true
		}
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(parsed)
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(parsed)
	default:
		return 0, false
	}
}

func floatToInt(value float64) (int64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return int64(value), true
}
