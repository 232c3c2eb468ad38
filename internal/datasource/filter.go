package datasource

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/neuhoffm/firecms/internal/schema"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpIn  Op = "in"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpIn, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Condition — условие фильтра по полю (допускается составной путь).
type Condition struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

// Match проверяет сущность. Поле "id" сравнивается с идентификатором.
func (c Condition) Match(e Entity) bool {
	var got any
	if c.Field == "id" {
		got = e.ID
	} else {
		v, ok := schema.ValueAt(e.Values, c.Field)
		if !ok {
			// отсутствующее поле совпадает только с ne
			return c.Op == OpNe
		}
		got = v
	}
	if len(c.Values) == 0 {
		return false
	}
	switch c.Op {
	case OpEq:
		return equalValue(got, c.Values[0])
	case OpNe:
		return !equalValue(got, c.Values[0])
	case OpIn:
		for _, w := range c.Values {
			if equalValue(got, w) {
				return true
			}
		}
		// массив совпадает, если содержит любой из вариантов
		if arr, ok := got.([]any); ok {
			for _, it := range arr {
				for _, w := range c.Values {
					if equalValue(it, w) {
						return true
					}
				}
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		rel, ok := compareValue(got, c.Values[0])
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return rel > 0
		case OpGte:
			return rel >= 0
		case OpLt:
			return rel < 0
		default:
			return rel <= 0
		}
	}
	return false
}

// MatchAll — все условия должны выполниться.
func MatchAll(conds []Condition, e Entity) bool {
	for _, c := range conds {
		if !c.Match(e) {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func equalValue(got any, want string) bool {
	if gf, ok := asFloat(got); ok {
		if wf, err := strconv.ParseFloat(strings.TrimSpace(want), 64); err == nil {
			return gf == wf
		}
	}
	return strings.EqualFold(toString(got), strings.TrimSpace(want))
}

// compareValue: числа сравниваются как числа, даты как даты, остальное строками.
func compareValue(got any, want string) (int, bool) {
	want = strings.TrimSpace(want)
	if gf, ok := asFloat(got); ok {
		wf, err := strconv.ParseFloat(want, 64)
		if err != nil {
			return 0, false
		}
		return cmpFloat(gf, wf), true
	}
	gs, ok := got.(string)
	if !ok {
		return 0, false
	}
	if gd, ok := parseTime(gs); ok {
		wd, ok := parseTime(want)
		if !ok {
			return 0, false
		}
		return gd.Compare(wd), true
	}
	return strings.Compare(gs, want), true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ParseConditions разбирает условия из query-строки:
//
//	status__in=draft,live
//	price__gte=1000
//	address.city=Oslo
func ParseConditions(q url.Values, reserved ...string) []Condition {
	skip := map[string]bool{"q": true, "page": true, "pageSize": true, "sort": true, "nulls": true}
	for _, r := range reserved {
		skip[r] = true
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Condition
	for _, key := range keys {
		vals := q[key]
		if skip[key] || len(vals) == 0 {
			continue
		}
		field, op := key, OpEq
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, op = key[:i], Op(key[i+2:])
		}
		v := vals[0]
		if strings.HasPrefix(v, "in:") {
			op, v = OpIn, strings.TrimPrefix(v, "in:")
		}
		if !op.Valid() {
			continue
		}
		var parts []string
		if op == OpIn {
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		} else {
			parts = []string{v}
		}
		if field != "" && len(parts) > 0 {
			out = append(out, Condition{Field: field, Op: op, Values: parts})
		}
	}
	return out
}

// ParseSort: "-price,name" -> [{price desc} {name asc}].
func ParseSort(s string) []SortKey {
	var keys []SortKey
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		desc := strings.HasPrefix(p, "-")
		p = strings.TrimLeft(p, "+-")
		if p != "" {
			keys = append(keys, SortKey{Field: p, Desc: desc})
		}
	}
	return keys
}

func isNull(v any, ok bool) bool { return !ok || v == nil }

// cmpByKey: null-значения всегда в конце, независимо от направления.
func cmpByKey(a, b Entity, key string, desc bool) int {
	va, oka := fieldValue(a, key)
	vb, okb := fieldValue(b, key)
	na, nb := isNull(va, oka), isNull(vb, okb)
	if na && nb {
		return 0
	}
	if na != nb {
		if na {
			return +1
		}
		return -1
	}
	rel := 0
	fa, aNum := asFloat(va)
	fb, bNum := asFloat(vb)
	if aNum && bNum {
		rel = cmpFloat(fa, fb)
	} else {
		rel = strings.Compare(toString(va), toString(vb))
	}
	if desc {
		rel = -rel
	}
	return rel
}

func fieldValue(e Entity, key string) (any, bool) {
	if key == "id" {
		return e.ID, true
	}
	return schema.ValueAt(e.Values, key)
}

// SortEntities — стабильная мультисортировка; без ключей — по id.
func SortEntities(list []Entity, keys []SortKey) {
	if len(keys) == 0 {
		keys = []SortKey{{Field: "id"}}
	}
	sort.SliceStable(list, func(i, j int) bool {
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			if c := cmpByKey(list[i], list[j], k.Field, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
