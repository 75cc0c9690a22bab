package binschema

import (
	"strconv"
	"strings"
)

// keyRangeKind discriminates the shape of a parsed Enum case key,
// grounded on the retrieved crate's range::KeyRange enum
// (original_source/src/range/key_range.rs): a case key is either an
// exact value, one of Rust's five range forms, a custom value list, or
// the full-range default "..".
type keyRangeKind int

const (
	krValue keyRangeKind = iota
	krRange
	krRangeFrom
	krFull
	krRangeInclusive
	krRangeTo
	krRangeToInclusive
	krCustom
)

type keyRange struct {
	kind   keyRangeKind
	start  int64
	end    int64
	custom []int64
}

// parseKeyRange parses an Enum case key using the same grammar as
// KeyRange::from_str: "100", "100..200", "100..", "..", "100..=200",
// "..200", "..=200", or "[1, 2, 3]".
func parseKeyRange(s string) (keyRange, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		parts := strings.Split(s[1:len(s)-1], ",")
		vals := make([]int64, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return keyRange{}, newErr(ErrSchema, "invalid enum case list %q: %v", s, err)
			}
			vals = append(vals, n)
		}
		return keyRange{kind: krCustom, custom: vals}, nil
	}

	idx := strings.Index(s, "..")
	if idx < 0 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return keyRange{}, newErr(ErrSchema, "invalid enum case key %q: %v", s, err)
		}
		return keyRange{kind: krValue, start: n}, nil
	}

	left := strings.TrimSpace(s[:idx])
	right := strings.TrimSpace(s[idx+2:])

	var hasStart, hasEnd, inclusive bool
	var start, end int64
	var err error
	if left != "" {
		if start, err = strconv.ParseInt(left, 10, 64); err != nil {
			return keyRange{}, newErr(ErrSchema, "invalid enum case range %q: %v", s, err)
		}
		hasStart = true
	}
	if strings.HasPrefix(right, "=") {
		inclusive = true
		right = strings.TrimSpace(right[1:])
	}
	if right != "" {
		if end, err = strconv.ParseInt(right, 10, 64); err != nil {
			return keyRange{}, newErr(ErrSchema, "invalid enum case range %q: %v", s, err)
		}
		hasEnd = true
	}

	switch {
	case hasStart && hasEnd && !inclusive:
		return keyRange{kind: krRange, start: start, end: end}, nil
	case hasStart && !hasEnd && !inclusive:
		return keyRange{kind: krRangeFrom, start: start}, nil
	case !hasStart && !hasEnd && !inclusive:
		return keyRange{kind: krFull}, nil
	case hasStart && hasEnd && inclusive:
		return keyRange{kind: krRangeInclusive, start: start, end: end}, nil
	case !hasStart && hasEnd && !inclusive:
		return keyRange{kind: krRangeTo, end: end}, nil
	case !hasStart && hasEnd && inclusive:
		return keyRange{kind: krRangeToInclusive, end: end}, nil
	default:
		return keyRange{}, newErr(ErrSchema, "invalid enum case range %q", s)
	}
}

func (kr keyRange) contains(v int64) bool {
	switch kr.kind {
	case krValue:
		return v == kr.start
	case krRange:
		return v >= kr.start && v < kr.end
	case krRangeFrom:
		return v >= kr.start
	case krFull:
		return true
	case krRangeInclusive:
		return v >= kr.start && v <= kr.end
	case krRangeTo:
		return v < kr.end
	case krRangeToInclusive:
		return v <= kr.end
	case krCustom:
		for _, c := range kr.custom {
			if c == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// resolveEnumCase selects t's branch for a discriminant already keyed
// by discriminantKey. It tries an exact string match first (the common
// case, and the only form for string/bool discriminants), then, for
// numeric discriminants, falls back to range-keyed cases (mirroring
// KeyRangeMap::get's value_map-then-range_map-then-default order), and
// finally a bare ".." default case if one is present.
func resolveEnumCase(t *Type, key string, disc Value) (*Type, error) {
	if branch, ok := t.Map[key]; ok {
		return branch, nil
	}
	if n, err := disc.AsInt64(); err == nil {
		var fallback *Type
		for k, branch := range t.Map {
			kr, perr := parseKeyRange(k)
			if perr != nil {
				continue
			}
			if kr.kind == krFull {
				fallback = branch
				continue
			}
			if kr.contains(n) {
				return branch, nil
			}
		}
		if fallback != nil {
			return fallback, nil
		}
	}
	return nil, newErr(ErrEnum, "no enum case for discriminant %q", key)
}
