package helper

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	jsonFenceOpen  = "```json"
	jsonFenceClose = "```"

	// sentinels kept from the invoice evaluation scripts
	unparsableNumber = 9e9
	unsupportedValue = 8e9
)

var (
	nonNumeric      = regexp.MustCompile(`[^\d.-]`)
	nonSlugChar     = regexp.MustCompile(`[^a-z0-9-]`)
	repeatedHyphens = regexp.MustCompile(`-+`)
	polishChars     = strings.NewReplacer("ą", "a", "ć", "c", "ę", "e", "ł", "l", "ń", "n", "ó", "o", "ś", "s", "ź", "z", "ż", "z")
)

// FindBetween returns the text between the first occurrence of first and the
// next occurrence of last after it. ok is false when either marker is missing.
func FindBetween(s, first, last string) (string, bool) {
	start := strings.Index(s, first)
	if start < 0 {
		return "", false
	}
	start += len(first)
	end := strings.Index(s[start:], last)
	if end < 0 {
		return "", false
	}
	return s[start : start+end], true
}

// ExtractJSONFence reduces a model answer to the trimmed body of its first
// ```json fenced block. Without a complete fence the whole text is returned
// unchanged.
func ExtractJSONFence(text string) string {
	if body, ok := FindBetween(text, jsonFenceOpen, jsonFenceClose); ok {
		return strings.TrimSpace(body)
	}
	return text
}

// UnescapeInvalid drops every backslash that is not itself escaped and does
// not start a valid JSON escape sequence.
func UnescapeInvalid(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		escaped := i > 0 && s[i-1] == '\\'
		if escaped || validEscapeAt(s, i+1) {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func validEscapeAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+5 > len(s) {
			return false
		}
		for _, h := range s[i+1 : i+5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

// CleanURL forces https and drops the fragment so URLs from frontmatter and
// from related_links compare equal.
func CleanURL(url string) string {
	url = strings.ReplaceAll(url, "http://", "https://")
	if i := strings.Index(url, "#"); i >= 0 {
		url = url[:i]
	}
	return url
}

// URLFriendly converts a (Polish) tag name into a file and anchor safe slug.
func URLFriendly(tagName string) string {
	result := polishChars.Replace(strings.ToLower(tagName))
	result = strings.ReplaceAll(result, " ", "-")
	result = nonSlugChar.ReplaceAllString(result, "")
	result = repeatedHyphens.ReplaceAllString(result, "-")
	return strings.Trim(result, "-")
}

// NormalizeNumber turns amounts written with Polish or English separators
// ("1 234,56", "1,234.56", "1.234,56", "1234 56") into a plain decimal string.
func NormalizeNumber(num string) string {
	if num == "" {
		return num
	}
	if len(num) > 3 && !strings.ContainsAny(num, ".,") && num[len(num)-3] == ' ' {
		num = num[:len(num)-3] + "." + num[len(num)-2:]
	}
	comma, dot := strings.Index(num, ","), strings.Index(num, ".")
	if comma >= 0 && comma < dot {
		num = strings.ReplaceAll(num, ",", "")
	}
	comma, dot = strings.Index(num, ","), strings.Index(num, ".")
	if dot >= 0 && dot < comma {
		num = strings.ReplaceAll(num, ".", "")
	}
	if strings.Contains(num, ",") && !strings.Contains(num, ".") {
		num = strings.ReplaceAll(num, ",", ".")
	}
	return nonNumeric.ReplaceAllString(num, "")
}

// StringToFloat converts a JSON value to a float. Unparsable strings give
// 9e9 and unsupported types give 8e9 so mismatches stay visible in reports.
func StringToFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(NormalizeNumber(t), 64)
		if err != nil {
			return unparsableNumber
		}
		return f
	default:
		return unsupportedValue
	}
}
