package brand

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid brand record")

// messages mirrors the schema's user-facing messages, keyed by field and tag.
var messages = map[string]string{
	"BrandName.notblank":    "Brand name is required",
	"YearFounded.gte":       "Year founded seems too old",
	"YearFounded.notfuture": "Year founded cannot be in the future",
	"Headquarters.notblank": "Headquarters location is required",
	"NumberOfLocations.gte": "There should be at least one location",
}

// Validator checks canonical records before they are written. The current year
// is fixed when the validator is built.
type Validator struct {
	validate    *validator.Validate
	currentYear int
}

// NewValidator returns a validator that rejects founding years after currentYear.
func NewValidator(currentYear int) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("notfuture", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(currentYear)
	})

	return &Validator{validate: v, currentYear: currentYear}
}

// CurrentYear returns the upper bound for YearFounded.
func (v *Validator) CurrentYear() int {
	return v.currentYear
}

// Validate returns nil when rec satisfies every schema constraint, or an error
// wrapping ErrInvalid that lists each violation.
func (v *Validator) Validate(rec Record) error {
	err := v.validate.Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.StructField()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s failed %s", fe.StructField(), fe.Tag())
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s (got %v)", fe.StructField(), msg, fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// ValidateAll validates every record and reports the first failure by index.
func (v *Validator) ValidateAll(recs []Record) error {
	for i, rec := range recs {
		if err := v.Validate(rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}
