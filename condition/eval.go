package condition

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Evaluate reports whether e holds under r. A nil expression is true.
func Evaluate(e *Expr, r Resolver) bool {
	if e == nil {
		return true
	}
	switch e.Op {
	case OpAnd:
		for _, a := range e.Args {
			if !Evaluate(a, r) {
				return false
			}
		}
		return len(e.Args) > 0
	case OpOr:
		for _, a := range e.Args {
			if Evaluate(a, r) {
				return true
			}
		}
		return false
	case OpNot:
		if len(e.Args) != 1 {
			return false
		}
		return !Evaluate(e.Args[0], r)
	}

	left, ok := r.Resolve(e.Var)
	if e.Op == OpExists {
		return ok && left != nil
	}
	if !ok || left == nil {
		return false
	}
	right, ok := operand(e, r)
	if !ok {
		return false
	}

	switch e.Op {
	case OpEquals:
		return equal(left, right)
	case OpGT:
		c, ok := compare(left, right)
		return ok && c > 0
	case OpLT:
		c, ok := compare(left, right)
		return ok && c < 0
	case OpContains:
		return contains(left, right)
	case OpRegex:
		s, ok := left.(string)
		pattern, pok := right.(string)
		if !ok || !pok {
			return false
		}
		re, err := compilePattern(pattern)
		return err == nil && re.MatchString(s)
	}
	return false
}

func operand(e *Expr, r Resolver) (any, bool) {
	if e.Ref != "" {
		v, ok := r.Resolve(e.Ref)
		return v, ok && v != nil
	}
	return e.Value, e.Value != nil
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok := a.(string)
	y, ok2 := b.(string)
	if !ok || !ok2 {
		return 0, false
	}
	return strings.Compare(x, y), true
}

// contains tests substring, slice membership or map key presence.
func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		sub, ok := needle.(string)
		return ok && strings.Contains(s, sub)
	}
	v := reflect.ValueOf(haystack)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if equal(v.Index(i).Interface(), needle) {
				return true
			}
		}
	case reflect.Map:
		key, ok := needle.(string)
		if !ok || v.Type().Key().Kind() != reflect.String {
			return false
		}
		return v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key())).IsValid()
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize round-trips composite values through JSON so []string and
// []any holding the same items compare equal.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// maxPatterns bounds the compiled pattern cache. Patterns come from user
// schemas, so the cache is reset rather than grown past the bound.
const maxPatterns = 512

type patternCache struct {
	mu    sync.Mutex
	limit int
	byKey map[string]*regexp.Regexp
}

var patterns = &patternCache{limit: maxPatterns, byKey: make(map[string]*regexp.Regexp)}

func (c *patternCache) compile(p string) (*regexp.Regexp, error) {
	c.mu.Lock()
	re, ok := c.byKey[p]
	c.mu.Unlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if len(c.byKey) >= c.limit {
		clear(c.byKey)
	}
	c.byKey[p] = re
	c.mu.Unlock()
	return re, nil
}

func (c *patternCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

func compilePattern(p string) (*regexp.Regexp, error) {
	return patterns.compile(p)
}

// Lookup walks a dotted path through nested maps and slices. Numeric
// segments index slices: "items.0.name".
func Lookup(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			rv := reflect.ValueOf(cur)
			switch rv.Kind() {
			case reflect.Map:
				if rv.Type().Key().Kind() != reflect.String {
					return nil, false
				}
				mv := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
				if !mv.IsValid() {
					return nil, false
				}
				cur = mv.Interface()
			case reflect.Slice, reflect.Array:
				i, err := strconv.Atoi(seg)
				if err != nil || i < 0 || i >= rv.Len() {
					return nil, false
				}
				cur = rv.Index(i).Interface()
			default:
				return nil, false
			}
		}
	}
	return cur, true
}
