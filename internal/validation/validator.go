package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	apperrors "taskmanager/internal/errors"
)

// PasswordSymbols are the symbol characters accepted by the password policy.
const PasswordSymbols = "@$!%*?&#"

// PasswordMaxLength is the bcrypt input limit in bytes.
const PasswordMaxLength = 72

const passwordPolicyMessage = "password must be at least 8 characters long (72 at most) and contain an upper-case letter, a lower-case letter, a digit and a symbol (" + PasswordSymbols + ")"

// DateLayouts are the accepted task date formats, tried in order.
var DateLayouts = []string{"2006-01-02", time.RFC3339}

// Validator wraps validator.Validate for Echo and reports every failing field at once.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator with the password, notblank and taskdate tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return ValidPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("taskdate", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v}
}

// Validate implements echo.Validator interface.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error())
	}

	fields := make([]apperrors.FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, apperrors.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return apperrors.NewValidationError("invalid input", fields...)
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "password":
		return passwordPolicyMessage
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "taskdate":
		return field + " must be a date in YYYY-MM-DD or RFC 3339 format"
	default:
		return field + " is invalid"
	}
}

// ValidPassword reports whether pw satisfies the password policy.
func ValidPassword(pw string) bool {
	if len(pw) < 8 || len(pw) > PasswordMaxLength {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		default:
			return false
		}
	}
	return upper && lower && digit && symbol
}

// ParseDate parses s with DateLayouts and returns it in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
