package validator

import (
	"sync"

	"github.com/go-playground/validator/v10"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

var (
	validate *validator.Validate
	initOnce sync.Once
)

func NewValidator() *validator.Validate {
	initOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func GetValidator() *validator.Validate {
	return NewValidator()
}

func ValidateRequest(req interface{}) error {
	if err := NewValidator().Struct(req); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if ierr.As(err, &validateErrs) {
			for _, err := range validateErrs {
				details[err.Field()] = err.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("Request validation failed").
			WithMessage(firstFieldError(validateErrs)).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func firstFieldError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	return errs[0].Namespace() + " failed on " + errs[0].Tag()
}
