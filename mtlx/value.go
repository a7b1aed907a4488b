package mtlx

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseValue parses a MaterialX value string of the given type:
//
//	float                 float64
//	colorN, vectorN       []float64 (comma separated; arrays are not supported)
//	integer               int
//	boolean               bool ("true" in any case, anything else is false)
//	string, filename      string
//
// With onlyFirst, vector values return their first component as float64.
func ParseValue(typ, s string, onlyFirst bool) (any, error) {
	switch {
	case typ == "float":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", ErrInvalidValue, typ, s)
		}
		return f, nil

	case isVectorType(typ):
		parts := strings.Split(s, ",")
		vec := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %q", ErrInvalidValue, typ, s)
			}
			vec = append(vec, f)
		}
		if onlyFirst {
			return vec[0], nil
		}
		return vec, nil

	case typ == "string", typ == "filename":
		return s, nil

	case typ == "integer":
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", ErrInvalidValue, typ, s)
		}
		return n, nil

	case typ == "boolean":
		return strings.EqualFold(strings.TrimSpace(s), "true"), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// isVectorType reports whether typ is a non-array colorN or vectorN type.
func isVectorType(typ string) bool {
	if strings.Contains(typ, "array") {
		return false
	}
	return strings.HasPrefix(typ, "color") || strings.HasPrefix(typ, "vector")
}

// vectorSize returns N of a colorN or vectorN type.
func vectorSize(typ string) (int, error) {
	n, err := strconv.Atoi(strings.TrimLeft(typ, "colorvect"))
	if err != nil || n < 2 || n > 4 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return n, nil
}

// Prettify turns an identifier into a label: underscores become spaces and
// every word is capitalized, e.g. "base_color" becomes "Base Color".
func Prettify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range strings.ReplaceAll(s, "_", " ") {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			r = unicode.ToUpper(r)
		case isLetter:
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
		prevLetter = isLetter
	}
	return b.String()
}
