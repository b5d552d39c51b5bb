package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// ToSqlString converts a *string to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// FromSqlStringPtr converts sql.NullString to *string
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	return &val.String
}

// FromSqlTime converts sql.NullTime to *time.Time
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	return &val.Time
}

// ToNullJSONMap marshals m for a JSONB column. An empty map is stored as NULL.
func ToNullJSONMap[M ~map[K]V, K comparable, V any](m M) (pqtype.NullRawMessage, error) {
	if len(m) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

// FromNullJSON decodes a JSONB column into out. It reports false for NULL.
func FromNullJSON(val pqtype.NullRawMessage, out any) (bool, error) {
	if !val.Valid {
		return false, nil
	}
	if err := json.Unmarshal(val.RawMessage, out); err != nil {
		return false, fmt.Errorf("failed to decode json column: %w", err)
	}
	return true, nil
}
