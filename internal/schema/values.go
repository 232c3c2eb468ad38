package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD

var errEnum = errors.New("value is not allowed")

// ValidateValue валидирует и НОРМАЛИЗУЕТ значение одного свойства.
// Ошибка всегда FieldError с кодом, понятным форме.
func ValidateValue(key string, p Property, v any) (any, error) {
	if isEmpty(v) {
		if p.Required() {
			return nil, ferr(ErrRequired, key, "Field '"+key+"' is required")
		}
		return v, nil
	}
	norm, err := coerceValue(key, p, v)
	if err != nil {
		var fe FieldError
		if errors.As(err, &fe) {
			return nil, fe
		}
		if errors.Is(err, errEnum) {
			return nil, ferr(ErrEnumInvalid, key, "Invalid value for '"+key+"'")
		}
		return nil, ferr(ErrTypeMismatch, key, "Field '"+key+"' "+err.Error())
	}
	if err := checkConstraints(key, p, norm); err != nil {
		return nil, err
	}
	return norm, nil
}

// ValidateValues проверяет полный набор значений сущности. Неизвестные ключи
// остаются как есть. Возвращает нормализованную копию.
func ValidateValues(s EntitySchema, values map[string]any) (map[string]any, error) {
	out, errs := validateLevel(s.Properties, s.PropertiesOrder, values, "")
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return out, nil
}

func validateLevel(props map[string]PropertyOrBuilder, order []string, values map[string]any, prefix string) (map[string]any, []FieldError) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	var errs []FieldError
	for _, k := range OrderedKeys(props, order) {
		p, ok := props[k].Property()
		if !ok {
			continue // значения билдеров не валидируем
		}
		path := JoinPath(prefix, k)
		norm, err := ValidateValue(path, p, values[k])
		if err != nil {
			var fe FieldError
			if errors.As(err, &fe) {
				errs = append(errs, fe)
			}
			continue
		}
		if _, present := values[k]; present {
			out[k] = norm
		}
	}
	return out, errs
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func coerceValue(key string, p Property, v any) (any, error) {
	switch p.DataType {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be string")
		}
		if len(p.EnumValues) > 0 && !enumAllowed(p, s) {
			return nil, errEnum
		}
		return s, nil
	case Number:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if len(p.EnumValues) > 0 && !enumAllowed(p, strconv.FormatFloat(f, 'f', -1, 64)) {
			return nil, errEnum
		}
		return f, nil
	case Boolean:
		return toBool(v)
	case Date:
		return toDate(v)
	case Reference:
		// ожидаем строковый id
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, errors.New("must be a reference id")
		}
		return s, nil
	case GeoPoint:
		return toGeoPoint(v)
	case Array:
		arr, ok := toSlice(v)
		if !ok {
			return nil, errors.New("must be array")
		}
		if p.Of == nil {
			return arr, nil
		}
		out := make([]any, 0, len(arr))
		for i, ev := range arr {
			norm, err := ValidateValue(fmt.Sprintf("%s[%d]", key, i), *p.Of, ev)
			if err != nil {
				return nil, err
			}
			out = append(out, norm)
		}
		return out, nil
	case Map:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("must be object")
		}
		out, errs := validateLevel(p.Properties, p.PropertiesOrder, m, key)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return out, nil
	}
	// неизвестный тип — оставим как есть
	return v, nil
}

func checkConstraints(key string, p Property, v any) error {
	if p.Validation == nil {
		return nil
	}
	val := p.Validation
	switch t := v.(type) {
	case float64:
		if val.Min != nil && t < *val.Min {
			return ferr(ErrTypeMismatch, key, fmt.Sprintf("Field '%s' must be >= %v", key, *val.Min))
		}
		if val.Max != nil && t > *val.Max {
			return ferr(ErrTypeMismatch, key, fmt.Sprintf("Field '%s' must be <= %v", key, *val.Max))
		}
	case string:
		if val.Pattern != "" {
			re, err := regexp.Compile(val.Pattern)
			if err == nil && !re.MatchString(t) {
				return ferr(ErrTypeMismatch, key, "Field '"+key+"' does not match pattern")
			}
		}
		n := float64(len([]rune(t)))
		if val.Min != nil && n < *val.Min {
			return ferr(ErrTypeMismatch, key, fmt.Sprintf("Field '%s' must have at least %v characters", key, *val.Min))
		}
		if val.Max != nil && n > *val.Max {
			return ferr(ErrTypeMismatch, key, fmt.Sprintf("Field '%s' must have at most %v characters", key, *val.Max))
		}
	}
	return nil
}

func enumAllowed(p Property, s string) bool {
	for _, ev := range p.EnumValues {
		if ev.ID == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, errors.New("must be a finite number")
		}
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	}
	return 0, errors.New("must be number")
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}

func toDate(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case string:
		if dateRe.MatchString(t) {
			if _, err := time.Parse("2006-01-02", t); err != nil {
				return "", errors.New("invalid date")
			}
			return t, nil
		}
		if _, err := time.Parse(time.RFC3339, t); err != nil {
			return "", errors.New("must be YYYY-MM-DD or RFC3339 datetime")
		}
		return t, nil
	}
	return "", errors.New("must be date")
}

func toGeoPoint(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("must be {latitude, longitude}")
	}
	lat, err := toFloat(m["latitude"])
	if err != nil || lat < -90 || lat > 90 {
		return nil, errors.New("latitude must be within [-90, 90]")
	}
	lng, err := toFloat(m["longitude"])
	if err != nil || lng < -180 || lng > 180 {
		return nil, errors.New("longitude must be within [-180, 180]")
	}
	return map[string]any{"latitude": lat, "longitude": lng}, nil
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// ValueAt читает значение по составному ключу "a.b.c".
func ValueAt(values map[string]any, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := values[head]
	if !ok || !nested {
		return v, ok
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return ValueAt(m, rest)
}

// WithValueAt возвращает копию values с записанным по пути значением;
// промежуточные map создаются при необходимости.
func WithValueAt(values map[string]any, path string, v any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, val := range values {
		out[k] = val
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		out[head] = v
		return out
	}
	child, _ := out[head].(map[string]any)
	out[head] = WithValueAt(child, rest, v)
	return out
}
