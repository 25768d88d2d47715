package formatters

import (
	"strconv"
	"strings"
)

// NormalizeNumeric coerces the named columns of every row in the chunk to float64.
// Empty cells become nil. Cells that do not parse as a number also become nil and
// are counted; the row itself is kept and no other column is touched.
func NormalizeNumeric(chunk *Chunk, columns []string) int {
	present := make([]string, 0, len(columns))
	for _, col := range columns {
		if chunk.HasColumn(col) {
			present = append(present, col)
		}
	}
	if len(present) == 0 {
		return 0
	}

	coerced := 0
	for _, row := range chunk.Rows {
		for _, col := range present {
			value, ok := coerceFloat(row[col])
			if !ok {
				coerced++
			}
			row[col] = value
		}
	}

	return coerced
}

// coerceFloat converts a raw cell to float64. The bool is false only when a
// non-empty cell was replaced with nil.
func coerceFloat(raw interface{}) (interface{}, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// HasColumn reports whether the chunk header contains the column
func (c *Chunk) HasColumn(name string) bool {
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}
