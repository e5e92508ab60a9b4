package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringArray is stored as a JSON array in a text column so the same schema
// works on postgres and sqlite.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		return s.scanString(v)
	case []byte:
		return s.scanString(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

func (s *StringArray) scanString(v string) error {
	v = strings.TrimSpace(v)
	if v == "" || v == "{}" || v == "[]" {
		*s = StringArray{}
		return nil
	}

	var arr []string
	if err := json.Unmarshal([]byte(v), &arr); err == nil {
		*s = arr
		return nil
	}

	// Rows written by older builds used the postgres array literal: {a,b,c}
	trimmed := strings.Trim(v, "{}")
	parts := strings.Split(trimmed, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "\"")
		if part != "" {
			result = append(result, part)
		}
	}
	*s = result
	return nil
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
