// Package seed generates synthetic brand records that are canonical by
// construction.
package seed

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/hazyhaar/brandmig/pkg/brand"
)

// Policy fixes the value ranges of generated records.
type Policy struct {
	Count        int
	MinYear      int
	MinLocations int
	MaxLocations int
	// RandomSeed makes generation reproducible. Zero picks a random seed.
	RandomSeed uint64
}

// DefaultPolicy returns ten records founded from 1980 on with 1 to 5000 locations.
func DefaultPolicy() Policy {
	return Policy{Count: 10, MinYear: 1980, MinLocations: 1, MaxLocations: 5000}
}

// Generator produces synthetic brand records.
type Generator struct {
	policy Policy
	faker  *gofakeit.Faker
}

// New returns a generator for p. The policy ranges are tightened to the
// canonical bounds so every record it produces is valid.
func New(p Policy) *Generator {
	if p.MinYear < brand.MinYearFounded {
		p.MinYear = brand.MinYearFounded
	}
	if p.MinLocations < brand.MinNumberOfLocations {
		p.MinLocations = brand.MinNumberOfLocations
	}
	if p.MaxLocations < p.MinLocations {
		p.MaxLocations = p.MinLocations
	}
	return &Generator{policy: p, faker: gofakeit.New(p.RandomSeed)}
}

// Generate returns Count records founded no later than currentYear. No record
// can be valid for a year before brand.MinYearFounded, so none is returned then.
func (g *Generator) Generate(currentYear int) []brand.Record {
	if currentYear < brand.MinYearFounded {
		return nil
	}
	minYear := min(g.policy.MinYear, currentYear)

	recs := make([]brand.Record, 0, max(g.policy.Count, 0))
	for range g.policy.Count {
		recs = append(recs, brand.Record{
			BrandName:         brand.CleanText(g.faker.Company()),
			YearFounded:       g.faker.IntRange(minYear, currentYear),
			Headquarters:      fmt.Sprintf("%s, %s", g.faker.City(), g.faker.StateAbr()),
			NumberOfLocations: g.faker.IntRange(g.policy.MinLocations, g.policy.MaxLocations),
		})
	}
	return recs
}
