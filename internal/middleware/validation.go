package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "clinicledger/internal/errors"
)

// QueryValidator decodes query parameters into tagged structs and validates them.
type QueryValidator struct {
	validate *validator.Validate
}

// NewQueryValidator reports fields by their query tag names.
func NewQueryValidator() *QueryValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("query"); name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
	return &QueryValidator{validate: v}
}

// ValidateQuery fills dst, a pointer to a struct, from r's query string. Fields
// are matched by `query` tag, embedded structs are walked. The returned error
// is an *errors.APIError listing every invalid field.
func (qv *QueryValidator) ValidateQuery(r *http.Request, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("query destination must be a struct pointer, got %T", dst)
	}

	var fieldErrs []apperrors.FieldError
	decodeQuery(r.URL.Query(), rv.Elem(), &fieldErrs)
	if len(fieldErrs) > 0 {
		return apperrors.NewFieldErrors(fieldErrs)
	}

	if err := qv.validate.Struct(dst); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperrors.InvalidRequestWithError(err)
		}
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, apperrors.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return apperrors.NewFieldErrors(fieldErrs)
	}
	return nil
}

func decodeQuery(values url.Values, v reflect.Value, errs *[]apperrors.FieldError) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)
		if sf.Anonymous && fv.Kind() == reflect.Struct {
			decodeQuery(values, fv, errs)
			continue
		}
		name := sf.Tag.Get("query")
		if name == "" || name == "-" || !fv.CanSet() {
			continue
		}
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Int, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				*errs = append(*errs, apperrors.FieldError{Field: name, Message: fmt.Sprintf("%s must be an integer", name)})
				continue
			}
			fv.SetInt(n)
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				*errs = append(*errs, apperrors.FieldError{Field: name, Message: fmt.Sprintf("%s must be a boolean", name)})
				continue
			}
			fv.SetBool(b)
		}
	}
}

func fieldMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
