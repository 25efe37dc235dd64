package helper

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// numberTolerance is half a grosz: amounts that round to the same value match.
const numberTolerance = 0.005

// Difference is one mismatch found by CompareJSON.
type Difference struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
	Left  any    `json:"left,omitempty"`
	Right any    `json:"right,omitempty"`
}

// CompareJSON lists the fields of left that right does not reproduce. Only
// keys present in left are checked. Arrays of objects are compared item by
// item, reporting "longer"/"shorter" when the item counts differ. Numbers
// and numeric strings are compared after NormalizeNumber.
//
// Expected files may carry annotations: keys starting with "_" are skipped,
// {"any": true} accepts any non-null value, and false accepts "".
func CompareJSON(left, right map[string]any) []Difference {
	return compareObjects("", left, right)
}

func compareObjects(prefix string, left, right map[string]any) []Difference {
	keys := make([]string, 0, len(left))
	for k := range left {
		if strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []Difference
	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		l := left[key]
		r, ok := right[key]
		if !ok {
			diffs = append(diffs, Difference{Path: path, Error: "missing", Left: l})
			continue
		}
		diffs = append(diffs, compareValues(path, l, r)...)
	}
	return diffs
}

func isWildcard(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) == 1 && m["any"] == true
}

func compareValues(path string, l, r any) []Difference {
	if isWildcard(l) && r != nil {
		return nil
	}
	switch lv := l.(type) {
	case map[string]any:
		if rv, ok := r.(map[string]any); ok {
			return compareObjects(path, lv, rv)
		}
	case []any:
		if rv, ok := r.([]any); ok {
			return compareArrays(path, lv, rv)
		}
	}
	if valuesEqual(l, r) {
		return nil
	}
	return []Difference{{Path: path, Left: l, Right: r}}
}

func compareArrays(path string, left, right []any) []Difference {
	var diffs []Difference
	for idx := range left {
		itemPath := fmt.Sprintf("%s[%d]", path, idx)
		if idx >= len(right) {
			diffs = append(diffs, Difference{Path: itemPath, Error: "longer", Left: left[idx]})
			continue
		}
		diffs = append(diffs, compareValues(itemPath, left[idx], right[idx])...)
	}
	if len(left) < len(right) {
		diffs = append(diffs, Difference{Path: fmt.Sprintf("%s[%d]", path, len(left)), Error: "shorter", Right: len(right)})
	}
	return diffs
}

func valuesEqual(l, r any) bool {
	if reflect.DeepEqual(l, r) {
		return true
	}
	if l == false && r == "" {
		return true
	}
	if !isNumeric(l) || !isNumeric(r) {
		return false
	}
	lf, rf := StringToFloat(l), StringToFloat(r)
	if lf == unparsableNumber || rf == unparsableNumber {
		return false
	}
	return math.Abs(lf-rf) < numberTolerance
}

// numericText is an amount, optionally followed by a currency.
var numericText = regexp.MustCompile(`^\s*[+-]?[\d\s.,]*\d[\d\s.,]*\s*(zł|PLN|EUR|USD)?\s*$`)

func isNumeric(v any) bool {
	switch t := v.(type) {
	case float64, float32, int:
		return true
	case string:
		return numericText.MatchString(t) && StringToFloat(t) != unparsableNumber
	}
	return false
}
