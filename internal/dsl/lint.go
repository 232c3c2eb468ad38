package dsl

import (
	"fmt"
	"sort"
	"strings"
)

// Issue — замечание линтера по полю сущности.
type Issue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Blocking — замечание, с которым набор схем не принимается.
func (i Issue) Blocking() bool { return i.Code != "unique_composite" }

var knownOptions = map[string]struct{}{
	"required": {}, "unique": {}, "readonly": {}, "title": {},
	"description": {}, "pattern": {}, "min": {}, "max": {},
}

// Lint проверяет противоречия, которые парсер пропускает: неизвестные
// опции, ссылки на необъявленные коллекции, составные unique.
func Lint(entities map[string]*Entity) []Issue {
	var issues []Issue
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := entities[id]
		for _, f := range e.Fields {
			opts := make([]string, 0, len(f.Options))
			for k := range f.Options {
				opts = append(opts, k)
			}
			sort.Strings(opts)
			for _, k := range opts {
				if _, ok := knownOptions[k]; !ok {
					issues = append(issues, Issue{Entity: id, Field: f.Key, Code: "option_unknown",
						Message: fmt.Sprintf("unknown option %q", k)})
				}
			}
			if f.Type == "ref" || f.ElemType == "ref" {
				target := strings.SplitN(f.Target, "/", 2)[0]
				if _, ok := entities[target]; !ok {
					issues = append(issues, Issue{Entity: id, Field: f.Key, Code: "ref_target_unknown",
						Message: fmt.Sprintf("reference to undeclared collection %q", f.Target)})
				}
			}
			if hasFlag(f.Options, "required") && hasFlag(f.Options, "readonly") {
				issues = append(issues, Issue{Entity: id, Field: f.Key, Code: "required_readonly",
					Message: "readonly field cannot be required: it is never filled from the form"})
			}
			if hasFlag(f.Options, "unique") && (f.Type == "map" || f.Type == "array") {
				issues = append(issues, Issue{Entity: id, Field: f.Key, Code: "unique_not_scalar",
					Message: "unique applies to scalar fields only"})
			}
		}
		for _, set := range e.Unique {
			if len(set) > 1 {
				issues = append(issues, Issue{Entity: id, Code: "unique_composite",
					Message: fmt.Sprintf("composite unique(%s) is not enforced", strings.Join(set, ", "))})
			}
		}
	}
	return issues
}

func hasFlag(opts map[string]string, k string) bool {
	v, ok := opts[k]
	return ok && isTrue(v)
}
