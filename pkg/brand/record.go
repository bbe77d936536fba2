// Package brand defines the canonical brand record and the rules that turn a
// loosely shaped document into one.
package brand

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

// Schema bounds shared by the normalizer, the validator and the store backends.
const (
	MinYearFounded       = 1600
	MinNumberOfLocations = 1

	// Unknown replaces a missing brand name or headquarters.
	Unknown = "Unknown"
)

// Canonical field names.
const (
	FieldBrandName         = "brandName"
	FieldYearFounded       = "yearFounded"
	FieldHeadquarters      = "headquarters"
	FieldNumberOfLocations = "numberOfLocations"
)

// ErrIncomplete is returned by FromFields when a canonical field is missing or
// cannot be read as the expected type.
var ErrIncomplete = errors.New("incomplete canonical record")

// Record is a brand in canonical form.
type Record struct {
	BrandName         string `json:"brandName" yaml:"brandName" validate:"notblank"`
	YearFounded       int    `json:"yearFounded" yaml:"yearFounded" validate:"gte=1600,notfuture"`
	Headquarters      string `json:"headquarters" yaml:"headquarters" validate:"notblank"`
	NumberOfLocations int    `json:"numberOfLocations" yaml:"numberOfLocations" validate:"gte=1"`
}

// Raw is an untyped document as it sits in the store before normalization.
type Raw map[string]any

// Fields returns the record as a document field set.
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldBrandName:         r.BrandName,
		FieldYearFounded:       r.YearFounded,
		FieldHeadquarters:      r.Headquarters,
		FieldNumberOfLocations: r.NumberOfLocations,
	}
}

// FromFields reads a canonical record back from a stored field set. Unlike
// Normalize it does not repair anything: every canonical field must be present.
func FromFields(fields map[string]any) (Record, error) {
	var rec Record
	var err error

	if rec.BrandName, err = stringField(fields, FieldBrandName); err != nil {
		return Record{}, err
	}
	if rec.YearFounded, err = intField(fields, FieldYearFounded); err != nil {
		return Record{}, err
	}
	if rec.Headquarters, err = stringField(fields, FieldHeadquarters); err != nil {
		return Record{}, err
	}
	if rec.NumberOfLocations, err = intField(fields, FieldNumberOfLocations); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", ErrIncomplete, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrIncomplete, key, v)
	}
	return s, nil
}

func intField(fields map[string]any, key string) (int, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrIncomplete, key)
	}
	switch v.(type) {
	case string, bool:
		return 0, fmt.Errorf("%w: %s is %T, want a number", ErrIncomplete, key, v)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrIncomplete, key, err)
	}
	return n, nil
}
