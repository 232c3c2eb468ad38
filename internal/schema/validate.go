package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrEnumInvalid     = "enum_invalid"
	ErrUniqueViolation = "unique_violation"
	ErrNotFound        = "not_found"
	ErrReadOnly        = "readonly_field"
	ErrInvalidMove     = "invalid_move"
	ErrInvalidSchema   = "invalid_schema"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError — набор ошибок полей, не выходящих за пределы формы.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldErrors достаёт ошибки полей из err (ValidationError или одиночная FieldError).
func FieldErrors(err error) ([]FieldError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Errors, true
	}
	var fe FieldError
	if errors.As(err, &fe) {
		return []FieldError{fe}, true
	}
	return nil, false
}

var (
	slugRe = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)
	keyRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRe.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// IsValidKey — ключ свойства не может содержать точку: она разделяет пути.
func IsValidKey(key string) bool { return keyRe.MatchString(key) }

// Validate проверяет обязательные поля схемы и инвариант
// properties <-> propertiesOrder на всех уровнях.
func (s EntitySchema) Validate() error {
	var errs []FieldError
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fromValidator(fe))
		}
	}
	errs = append(errs, checkProperties(s.Properties, s.PropertiesOrder, "")...)
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func fromValidator(fe validator.FieldError) FieldError {
	switch fe.Tag() {
	case "required":
		return ferr(ErrRequired, fe.Field(), "Field '"+fe.Field()+"' is required")
	case "slug":
		return ferr(ErrInvalidSchema, fe.Field(), "must contain only lowercase letters, digits, '_' or '-'")
	}
	return ferr(ErrInvalidSchema, fe.Field(), fmt.Sprintf("failed %q rule", fe.Tag()))
}

func checkProperties(props map[string]PropertyOrBuilder, order []string, prefix string) []FieldError {
	var errs []FieldError
	seen := make(map[string]struct{}, len(order))
	for _, k := range order {
		path := JoinPath(prefix, k)
		if _, dup := seen[k]; dup {
			errs = append(errs, ferr(ErrInvalidSchema, path, "duplicated in propertiesOrder"))
			continue
		}
		seen[k] = struct{}{}
		if _, ok := props[k]; !ok {
			errs = append(errs, ferr(ErrInvalidSchema, path, "propertiesOrder references unknown property"))
		}
	}
	for _, k := range OrderedKeys(props, order) {
		path := JoinPath(prefix, k)
		if _, ok := seen[k]; !ok {
			errs = append(errs, ferr(ErrInvalidSchema, path, "property missing from propertiesOrder"))
		}
		if !IsValidKey(k) {
			errs = append(errs, ferr(ErrInvalidSchema, path, "invalid property key"))
		}
		p, ok := props[k].Property()
		if !ok {
			continue // билдеры не проверяем
		}
		errs = append(errs, checkProperty(p, path)...)
	}
	return errs
}

func checkProperty(p Property, path string) []FieldError {
	var errs []FieldError
	if !p.DataType.Known() {
		return append(errs, ferr(ErrTypeMismatch, path, fmt.Sprintf("unknown dataType %q", p.DataType)))
	}
	switch p.DataType {
	case Map:
		errs = append(errs, checkProperties(p.Properties, p.PropertiesOrder, path)...)
	case Reference:
		if strings.TrimSpace(p.Path) == "" {
			errs = append(errs, ferr(ErrInvalidSchema, path, "reference property needs a target path"))
		}
	case Array:
		if p.Of == nil {
			errs = append(errs, ferr(ErrInvalidSchema, path, "array property needs an element type"))
		} else {
			errs = append(errs, checkProperty(*p.Of, path+"[]")...)
		}
	}
	if p.DataType != Map && len(p.Properties) > 0 {
		errs = append(errs, ferr(ErrInvalidSchema, path, "only map properties can contain nested properties"))
	}
	if p.Validation != nil && p.Validation.Pattern != "" {
		if _, err := regexp.Compile(p.Validation.Pattern); err != nil {
			errs = append(errs, ferr(ErrInvalidSchema, path, "invalid pattern: "+err.Error()))
		}
	}
	return errs
}
