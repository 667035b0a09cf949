package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
)

// Document stores one document of a collection path, namespaced by project.
type Document struct {
	ProjectID        string `gorm:"column:project_id;primaryKey;size:190;not null;index:idx_documents_collection,priority:1"`
	CollectionPath   string `gorm:"column:collection_path;primaryKey;size:512;not null;index:idx_documents_collection,priority:2"`
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	FieldsJSON       string `gorm:"column:fields_json;type:text;not null"`
	CreateTimeMillis int64  `gorm:"column:create_time_ms;not null"`
	UpdateTimeMillis int64  `gorm:"column:update_time_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// resolveFields replaces write sentinels with concrete values. Increments apply on top of base.
func resolveFields(base store.Fields, incoming store.Fields, now time.Time) store.Fields {
	resolved := make(store.Fields, len(base)+len(incoming))
	for key, value := range base {
		resolved[key] = value
	}
	for key, value := range incoming {
		switch typed := value.(type) {
		case store.ServerTimestampValue:
			resolved[key] = now.UTC().UnixMilli()
		case store.IncrementValue:
			resolved[key] = addNumber(resolved[key], typed.Delta)
		case time.Time:
			resolved[key] = typed.UTC().UnixMilli()
		default:
			resolved[key] = value
		}
	}
	return resolved
}

func addNumber(current any, delta int64) any {
	switch typed := current.(type) {
	case int64:
		return typed + delta
	case int:
		return int64(typed) + delta
	case float64:
		return typed + float64(delta)
	default:
		return delta
	}
}

func encodeFields(fields store.Fields) (string, error) {
	if fields == nil {
		fields = store.Fields{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(encoded), nil
}

func decodeFields(payload string) (store.Fields, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	decoder.UseNumber()
	raw := map[string]any{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	fields := make(store.Fields, len(raw))
	for key, value := range raw {
		fields[key] = normalizeValue(value)
	}
	return fields, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer
		}
		if float, err := typed.Float64(); err == nil {
			return float
		}
		return typed.String()
	case map[string]any:
		nested := make(map[string]any, len(typed))
		for key, inner := range typed {
			nested[key] = normalizeValue(inner)
		}
		return nested
	case []any:
		items := make([]any, len(typed))
		for index, inner := range typed {
			items[index] = normalizeValue(inner)
		}
		return items
	default:
		return value
	}
}

// sortDocuments orders documents by a field. Missing values sort before present ones
// in ascending order; ties fall back to document id.
func sortDocuments(documents []store.Document, field string, direction store.Direction) {
	sort.SliceStable(documents, func(i, j int) bool {
		comparison := compareValues(documents[i].Fields[field], documents[j].Fields[field])
		if comparison == 0 {
			return documents[i].ID < documents[j].ID
		}
		if direction == store.Descending {
			return comparison > 0
		}
		return comparison < 0
	})
}

func compareValues(left, right any) int {
	leftRank, rightRank := valueRank(left), valueRank(right)
	if leftRank != rightRank {
		return compareInts(int64(leftRank), int64(rightRank))
	}
	switch leftRank {
	case rankBool:
		leftBool, rightBool := left.(bool), right.(bool)
		switch {
		case leftBool == rightBool:
			return 0
		case !leftBool:
			return -1
		default:
			return 1
		}
	case rankNumber:
		leftNumber, rightNumber := toFloat(left), toFloat(right)
		switch {
		case leftNumber < rightNumber:
			return -1
		case leftNumber > rightNumber:
			return 1
		default:
			return 0
		}
	case rankString:
		leftString, rightString := left.(string), right.(string)
		switch {
		case leftString < rightString:
			return -1
		case leftString > rightString:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

const (
	rankMissing = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func valueRank(value any) int {
	switch value.(type) {
	case nil:
		return rankMissing
	case bool:
		return rankBool
	case int, int64, float64:
		return rankNumber
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(value any) float64 {
	switch typed := value.(type) {
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case float64:
		return typed
	default:
		return 0
	}
}

func compareInts(left, right int64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
