package validation

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/regd/errors"
)

// Struct tags understood on top of the validator built-ins.
const (
	// TagIdentifier holds a value to the same rules as Validator.Identifier.
	TagIdentifier = "regid"
	// TagHost holds a value to the same rules as Validator.Host.
	TagHost = "reghost"
)

var structValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation(TagIdentifier, func(fl validator.FieldLevel) bool {
		return invalidIdentifierAt(fl.Field().String()) < 0
	})
	_ = v.RegisterValidation(TagHost, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || validHost(s)
	})
	return v
})

// jsonName reports fields by their wire name.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// Validate checks s against its `validate` tags. A lone missing required
// field yields the same error as errors.MissingField; anything else is
// MALFORMED_INPUT listing every failing field under details.fields.
func Validate(s any) error {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.MalformedInput("validation failed").WithCause(err)
	}

	v := New()
	for _, fe := range verrs {
		v.fail(fe.Field(), "%s", describe(fe))
	}
	return v.Err()
}

var tagMessages = map[string]string{
	"required":         "is required",
	"min":              "must be at least ",
	"gte":              "must be at least ",
	"max":              "must be at most ",
	"lte":              "must be at most ",
	"oneof":            "must be one of: ",
	TagIdentifier:      "must not contain whitespace, control characters or '/'",
	TagHost:            "must be a hostname or IP address",
	"ip":               "must be a hostname or IP address",
	"hostname_rfc1123": "must be a hostname or IP address",
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.HasSuffix(msg, " ") {
		return msg + fe.Param()
	}
	return msg
}
