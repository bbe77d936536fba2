package brand

// Alias lists in priority order: when a document carries several of them, the
// earliest one wins.
var (
	NameAliases     = []string{FieldBrandName, "name"}
	YearAliases     = []string{FieldYearFounded, "established"}
	LocationAliases = []string{FieldHeadquarters, "hqAddress", "mainOffice"}
	CountAliases    = []string{FieldNumberOfLocations, "storeCount"}
)

// Result is a normalized record along with the canonical fields that were
// filled with a default or clamped into range.
type Result struct {
	Record   Record
	Adjusted []string
}

// Normalize maps a raw document to a canonical record. It never fails: missing
// or malformed values are replaced by the schema defaults.
func Normalize(raw Raw, currentYear int) Record {
	return Resolve(raw, currentYear).Record
}

// Resolve is Normalize plus a report of which fields needed adjusting.
func Resolve(raw Raw, currentYear int) Result {
	var res Result
	adjust := func(field string) { res.Adjusted = append(res.Adjusted, field) }

	name, ok := firstString(raw, NameAliases)
	if !ok {
		name = Unknown
		adjust(FieldBrandName)
	}
	res.Record.BrandName = name

	hq, ok := firstString(raw, LocationAliases)
	if !ok {
		hq = Unknown
		adjust(FieldHeadquarters)
	}
	res.Record.Headquarters = hq

	year, ok := firstInt(raw, YearAliases)
	switch {
	case !ok || year < MinYearFounded:
		year = MinYearFounded
		adjust(FieldYearFounded)
	case year > currentYear:
		year = currentYear
		adjust(FieldYearFounded)
	}
	res.Record.YearFounded = year

	count, ok := firstInt(raw, CountAliases)
	if !ok || count < MinNumberOfLocations {
		count = MinNumberOfLocations
		adjust(FieldNumberOfLocations)
	}
	res.Record.NumberOfLocations = count

	return res
}
