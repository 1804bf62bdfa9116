package sigma

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// identType classifies a detection map value as a keyword list or a
// selection map, the two leaf shapes a condition identifier can resolve to
type identType int

const (
	identErr identType = iota
	identSelection
	identKeyword
)

func (i identType) String() string {
	switch i {
	case identKeyword:
		return "KEYWORD"
	case identSelection:
		return "SELECTION"
	default:
		return "UNK"
	}
}

// checkIdentType classifies a detection map value by its shape. The
// conventional "keywords" block and any "keyword"-prefixed identifier must
// have keyword shape: a nil value is taken as keyword, any other non-keyword
// shape yields identErr
func checkIdentType(name string, data interface{}) identType {
	t := reflectIdentKind(data)
	if name == "keywords" || strings.HasPrefix(name, "keyword") {
		if data == nil {
			return identKeyword
		}
		if t != identKeyword {
			return identErr
		}
	}
	return t
}

func reflectIdentKind(data interface{}) identType {
	switch v := data.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
		return identSelection
	case []interface{}:
		k, ok := isSameKind(v)
		if !ok {
			return identErr
		}
		switch k {
		case reflect.Map:
			return identSelection
		default:
			return identKeyword
		}
	default:
		return identKeyword
	}
}

// newRuleFromIdent builds a leaf Branch out of a raw detection map value
func newRuleFromIdent(rule interface{}, kind identType, noCollapseWS bool) (Branch, error) {
	switch kind {
	case identKeyword:
		return NewKeyword(rule, noCollapseWS)
	case identSelection:
		return NewSelectionBranch(rule, noCollapseWS)
	}
	return nil, fmt.Errorf("unknown rule kind, should be keyword or selection")
}

// Stats tracks per-leaf evaluation counters, incremented during evaluation
// (not load), hence the use of atomics rather than a mutex
type Stats struct {
	Hits, Total       int64
	TypeMismatchCount int64
}

func (s *Stats) hit(matched bool) {
	atomic.AddInt64(&s.Total, 1)
	if matched {
		atomic.AddInt64(&s.Hits, 1)
	}
}

func (s *Stats) incrementMismatchCount() {
	atomic.AddInt64(&s.TypeMismatchCount, 1)
}

// Keyword is a leaf Branch holding patterns joined by logical disjunction,
// matched against an event's free-text keyword list
type Keyword struct {
	S StringMatcher
	Stats
}

// Match implements Matcher
func (k *Keyword) Match(msg Event) (bool, bool) {
	msgs, ok := msg.Keywords()
	if !ok {
		return false, false
	}
	for _, m := range msgs {
		if k.S.StringMatch(m) {
			k.hit(true)
			return true, true
		}
	}
	k.hit(false)
	return false, true
}

// NewKeyword builds a Keyword leaf out of a detection map value; a keyword
// list is implicitly "contains" matched, per upstream Sigma semantics, since
// keyword values are free-text log lines rather than structured fields
func NewKeyword(expr interface{}, noCollapseWS bool) (Branch, error) {
	switch val := expr.(type) {
	case []string:
		return newStringKeyword(noCollapseWS, val...)
	case []interface{}:
		k, ok := isSameKind(val)
		if !ok {
			return nil, ErrInvalidKind{
				Kind:     reflect.Array,
				T:        identKeyword,
				Critical: false,
				Msg:      "mixed type slice",
			}
		}
		switch k {
		case reflect.String:
			return newStringKeyword(noCollapseWS, castIfaceToString(val)...)
		default:
			return nil, ErrInvalidKind{
				Kind:     k,
				T:        identKeyword,
				Critical: false,
				Msg:      "unsupported data type",
			}
		}
	default:
		return nil, ErrInvalidKeywordConstruct{Expr: expr}
	}
}

func newStringKeyword(noCollapseWS bool, patterns ...string) (Branch, error) {
	matcher, err := NewStringMatcher(TextPatternKeyword, true, false, noCollapseWS, patterns...)
	if err != nil {
		return nil, err
	}
	return &Keyword{S: matcher}, nil
}

// SelectionNumItem is a numeric leaf pattern bound to a field key
type SelectionNumItem struct {
	Key     string
	Pattern NumMatcher
}

// SelectionStringItem is a string leaf pattern bound to a field key;
// Placeholder marks keys whose pattern is a Sigma "%name%" placeholder
// reference, resolved later by updatePlaceholders
type SelectionStringItem struct {
	Key         string
	Pattern     StringMatcher
	All         bool
	Placeholder bool
}

func (s *SelectionStringItem) update(m StringMatchers) {
	if s.All {
		s.Pattern = StringMatchersConj(m)
		return
	}
	s.Pattern = m
}

// Selection is a leaf Branch for the structured field-matching detection
// type. Every numeric item and every string item must match (implicit AND
// across keys); within one key's pattern list, the values are implicitly
// OR'd unless the "all" modifier is present
type Selection struct {
	N []SelectionNumItem
	S []SelectionStringItem
	Stats
}

// Match implements Matcher
func (s *Selection) Match(msg Event) (bool, bool) {
	if len(s.N) == 0 && len(s.S) == 0 {
		return false, false
	}
	for _, v := range s.N {
		val, ok := msg.Select(v.Key)
		if !ok {
			return false, false
		}
		n, ok := coerceToInt(val)
		if !ok {
			s.incrementMismatchCount()
			return false, true
		}
		if !v.Pattern.NumMatch(n) {
			s.hit(false)
			return false, true
		}
	}
	for _, v := range s.S {
		val, ok := msg.Select(v.Key)
		if !ok {
			return false, false
		}
		if !matchSelectionValue(v.Pattern, val) {
			s.hit(false)
			return false, true
		}
	}
	s.hit(true)
	return true, true
}

// matchSelectionValue handles scalar, array and numeric-as-string field
// values. Arrays match element-wise: any element satisfying the pattern is
// enough unless the pattern is a StringMatchersConj ("all" modifier), in
// which case every element must independently satisfy every sub-pattern
func matchSelectionValue(pattern StringMatcher, val interface{}) bool {
	switch vt := val.(type) {
	case string:
		return pattern.StringMatch(vt)
	case float64:
		if pattern.StringMatch(strconv.FormatFloat(vt, 'f', -1, 64)) {
			return true
		}
		return pattern.StringMatch(strconv.Itoa(int(vt)))
	case int:
		return pattern.StringMatch(strconv.Itoa(vt))
	case int64:
		return pattern.StringMatch(strconv.FormatInt(vt, 10))
	case bool:
		return pattern.StringMatch(strconv.FormatBool(vt))
	case []interface{}:
		if _, all := pattern.(StringMatchersConj); all {
			for _, elem := range vt {
				if !matchSelectionValue(pattern, elem) {
					return false
				}
			}
			return len(vt) > 0
		}
		for _, elem := range vt {
			if matchSelectionValue(pattern, elem) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func coerceToInt(val interface{}) (int, bool) {
	switch vt := val.(type) {
	case string:
		n, err := strconv.Atoi(vt)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int(vt), true
	case float32:
		return int(vt), true
	case int:
		return vt, true
	case int8:
		return int(vt), true
	case int16:
		return int(vt), true
	case int32:
		return int(vt), true
	case int64:
		return int(vt), true
	case uint:
		return int(vt), true
	case uint8:
		return int(vt), true
	case uint16:
		return int(vt), true
	case uint32:
		return int(vt), true
	case uint64:
		return int(vt), true
	default:
		return 0, false
	}
}

// modifierChain is the decoded form of a "field|mod1|mod2|..." selection key
type modifierChain struct {
	Field string

	Mod  TextPatternModifier
	All  bool
	Base64, Base64Offset, Wide, Windash, Cased bool

	NumCmp string // "", "gt", "gte", "lt", "lte"
}

var validSpecifiers = map[string]bool{
	"contains": true, "startswith": true, "endswith": true, "all": true,
	"re": true, "base64": true, "base64offset": true, "wide": true,
	"utf16": true, "windash": true, "cased": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
}

func isValidSpecifier(in string) bool { return validSpecifiers[in] }

func parseModifierChain(key string) (modifierChain, error) {
	chain := modifierChain{Field: key}
	if !strings.Contains(key, "|") {
		return chain, nil
	}
	bits := strings.Split(key, "|")
	chain.Field = bits[0]
	for _, spec := range bits[1:] {
		if !isValidSpecifier(spec) {
			return chain, fmt.Errorf("selection key %s specifier %s invalid", key, spec)
		}
		switch spec {
		case "startswith":
			chain.Mod = TextPatternPrefix
		case "endswith":
			chain.Mod = TextPatternSuffix
		case "contains":
			chain.Mod = TextPatternContains
		case "re":
			chain.Mod = TextPatternRegex
		case "all":
			chain.All = true
		case "base64":
			chain.Base64 = true
		case "base64offset":
			chain.Base64 = true
			chain.Base64Offset = true
		case "wide", "utf16":
			chain.Wide = true
		case "windash":
			chain.Windash = true
		case "cased":
			chain.Cased = true
		case "gt", "gte", "lt", "lte":
			chain.NumCmp = spec
		}
	}
	return chain, nil
}

func (c modifierChain) wrapTransforms(m StringMatcher) StringMatcher {
	if c.Windash {
		m = WindashPattern{Wrapped: m}
	}
	if c.Wide {
		m = WidePattern{Wrapped: m}
	}
	if c.Base64 {
		m = Base64Pattern{Wrapped: m, Offset: c.Base64Offset}
	}
	return m
}

func newSelectionFromMap(expr map[string]interface{}, noCollapseWS bool) (*Selection, error) {
	sel := &Selection{S: make([]SelectionStringItem, 0)}
	for key, pattern := range expr {
		chain, err := parseModifierChain(key)
		if err != nil {
			return nil, err
		}
		if chain.NumCmp != "" {
			n, err := numComparisonValue(pattern)
			if err != nil {
				return nil, err
			}
			sel.N = append(sel.N, SelectionNumItem{Key: chain.Field, Pattern: numComparator(chain.NumCmp, n)})
			continue
		}
		if chain.Mod == TextPatternRegex {
			m, err := regexMatcherFromPattern(pattern)
			if err != nil {
				return nil, err
			}
			sel.S = append(sel.S, SelectionStringItem{Key: chain.Field, Pattern: m})
			continue
		}
		switch pat := pattern.(type) {
		case string:
			m, err := newStringSelectionMatcher(chain, !chain.Cased, noCollapseWS, pat)
			if err != nil {
				return nil, err
			}
			sel.S = append(sel.S, SelectionStringItem{Key: chain.Field, Pattern: m, All: chain.All})
		case int:
			m, err := NewNumMatcher(pat)
			if err != nil {
				return nil, err
			}
			sel.N = append(sel.N, SelectionNumItem{Key: chain.Field, Pattern: m})
		case []interface{}:
			k, ok := isSameKind(pat)
			if !ok {
				return nil, ErrInvalidKind{
					Kind:     reflect.Array,
					T:        identSelection,
					Critical: false,
					Msg:      "mixed type slice",
				}
			}
			switch k {
			case reflect.String:
				m, err := newStringSelectionMatcher(chain, !chain.Cased, noCollapseWS, castIfaceToString(pat)...)
				if err != nil {
					return nil, err
				}
				sel.S = append(sel.S, SelectionStringItem{Key: chain.Field, Pattern: m, All: chain.All})
			case reflect.Int:
				m, err := NewNumMatcher(castIfaceToInt(pat)...)
				if err != nil {
					return nil, err
				}
				sel.N = append(sel.N, SelectionNumItem{Key: chain.Field, Pattern: m})
			default:
				return nil, ErrInvalidKind{
					Kind:     k,
					T:        identSelection,
					Critical: false,
					Msg:      "unsupported data type",
				}
			}
		case nil:
			// Sigma placeholder reference ("%name%") resolved later against
			// field Key via updatePlaceholders; needs an empty-but-valid
			// StringMatchers so Match never panics before the reload fires
			sel.S = append(sel.S, SelectionStringItem{
				Key:         chain.Field,
				Pattern:     StringMatchers{},
				All:         chain.All,
				Placeholder: true,
			})
		default:
			if t := reflect.TypeOf(pattern); t != nil {
				return nil, ErrInvalidKind{
					Kind:     t.Kind(),
					T:        identSelection,
					Critical: true,
					Msg:      "unsupported selection value",
				}
			}
			return nil, ErrUnableToReflect
		}
	}
	return sel, nil
}

func newStringSelectionMatcher(chain modifierChain, lower, noCollapseWS bool, patterns ...string) (StringMatcher, error) {
	mod := chain.Mod
	m, err := NewStringMatcher(mod, lower, chain.All, noCollapseWS, patterns...)
	if err != nil {
		return nil, err
	}
	if !chain.Base64 && !chain.Wide && !chain.Windash {
		return m, nil
	}
	return chain.wrapTransforms(m), nil
}

func regexMatcherFromPattern(pattern interface{}) (StringMatcher, error) {
	switch pat := pattern.(type) {
	case string:
		return compileRegex2(pat, defaultRegexTimeout)
	case []interface{}:
		patterns := castIfaceToString(pat)
		matchers := make(StringMatchers, 0, len(patterns))
		for _, p := range patterns {
			m, err := compileRegex2(p, defaultRegexTimeout)
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
		}
		return matchers.Optimize(), nil
	default:
		return nil, ErrInvalidSelectionConstruct{Expr: pattern, Msg: "re modifier requires string or string list"}
	}
}

// defaultRegexTimeout bounds a single regexp2 match so a pathological
// pattern cannot stall an evaluating worker indefinitely
const defaultRegexTimeout = 2 * time.Second

func numComparisonValue(pattern interface{}) (int, error) {
	switch v := pattern.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, fmt.Errorf("numeric comparison modifier requires a numeric value, got %T", pattern)
	}
}

func numComparator(kind string, n int) NumMatcher {
	switch kind {
	case "gt":
		return NumGreater{Val: n}
	case "gte":
		return NumGreaterEq{Val: n}
	case "lt":
		return NumLess{Val: n}
	case "lte":
		return NumLessEq{Val: n}
	default:
		return NumPattern{Val: n}
	}
}

// NewSelectionBranch builds a Branch out of a detection map's selection
// value, which may be a single map, or a list of maps joined by logical
// disjunction (Sigma's implicit OR-of-selections list form)
func NewSelectionBranch(expr interface{}, noCollapseWS bool) (Branch, error) {
	switch v := expr.(type) {
	case []interface{}:
		selections := make(NodeSimpleOr, 0, len(v))
		for _, item := range v {
			b, err := NewSelectionBranch(item, noCollapseWS)
			if err != nil {
				return nil, err
			}
			selections = append(selections, b)
		}
		return selections.Reduce(), nil
	case map[interface{}]interface{}:
		sel, err := newSelectionFromMap(cleanUpInterfaceMap(v), noCollapseWS)
		if err != nil {
			return nil, err
		}
		return sel, nil
	case map[string]interface{}:
		sel, err := newSelectionFromMap(v, noCollapseWS)
		if err != nil {
			return nil, err
		}
		return sel, nil
	default:
		if t := reflect.TypeOf(expr); t != nil {
			return nil, ErrInvalidKind{
				Kind:     t.Kind(),
				T:        identSelection,
				Critical: true,
				Msg:      "unsupported selection root container",
			}
		}
		return nil, ErrUnableToReflect
	}
}

func isSameKind(data []interface{}) (reflect.Kind, bool) {
	var current, last reflect.Kind
	for i, d := range data {
		cType := reflect.TypeOf(d)
		if cType == nil {
			return reflect.Invalid, false
		}
		current = cType.Kind()
		if i > 0 && current != last {
			return current, false
		}
		last = current
	}
	return current, true
}

func castIfaceToString(items []interface{}) []string {
	tx := make([]string, 0, len(items))
	for _, val := range items {
		tx = append(tx, fmt.Sprintf("%v", val))
	}
	return tx
}

func castIfaceToInt(items []interface{}) []int {
	tx := make([]int, 0, len(items))
	for _, val := range items {
		if n, ok := val.(int); ok {
			tx = append(tx, n)
		}
	}
	return tx
}

// cleanUpInterfaceMap normalizes yaml.v2's map[interface{}]interface{}
// (produced whenever a YAML map has non-string keys) into map[string]interface{}
func cleanUpInterfaceMap(rx map[interface{}]interface{}) map[string]interface{} {
	tx := make(map[string]interface{})
	for k, v := range rx {
		tx[fmt.Sprintf("%v", k)] = v
	}
	return tx
}
