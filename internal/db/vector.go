package db

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Vector is a pgvector value, encoded as "[1,2,3]".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return fmt.Errorf("invalid vector literal %q", s)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}
