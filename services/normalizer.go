package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"krisha-scraper/geo"
	"krisha-scraper/models"
)

// Field names used in normalization and validation errors.
const (
	FieldPrice        = "price"
	FieldArea         = "area"
	FieldFloor        = "floor"
	FieldPropertyType = "property_type"
	FieldDealType     = "deal_type"
)

// MaxFloor bounds floor and total floor counts.
const MaxFloor = 200

var (
	ErrNotANumber  = eris.New("not a number")
	ErrNotPositive = eris.New("must be positive")
	ErrOutOfRange  = eris.New("out of range")
)

var (
	// amountRegexp captures the first number with its separators once spaces are gone
	amountRegexp = regexp.MustCompile(`-?\d[\d.,]*`)
	// compositeFloorRegexp captures "5/9", "5 из 9", "5 этаж из 9" and "5 of 9"
	compositeFloorRegexp = regexp.MustCompile(`(-?\d+)(?:[\s-]*\p{L}+\.?)*\s*(?:/|из|of)\s*(\d+)`)
	intRegexp            = regexp.MustCompile(`-?\d+`)

	foreignCurrencyMarkers = []string{"$", "usd", "€", "eur", "у.е", "₽", "руб"}
	tengeMarkers           = []string{"₸", "〒", "тг", "тенге", "kzt"}
	areaUnitMarkers        = []string{"м²", "м2", "кв. м", "кв.м", "sq m", "m²", "m2"}
)

// priceScales are the shorthand multipliers krisha sellers write after a price.
var priceScales = []struct {
	marker string
	factor float64
}{
	{"млрд", 1e9},
	{"млн", 1e6},
	{"тыс", 1e3},
}

// NormalizePrice parses a tenge price such as "45 000 000 ₸", "1 200,50 ₸"
// or "45 млн ₸". Commas group thousands unless one or two digits follow the
// last one, which makes it the decimal point.
func NormalizePrice(raw *string) (float64, error) {
	s, ok := present(raw)
	if !ok {
		return 0, &models.NormalizationError{Field: FieldPrice, Reason: models.ErrMissing}
	}

	lower := strings.ToLower(s)
	for _, m := range foreignCurrencyMarkers {
		if strings.Contains(lower, m) {
			return 0, &models.NormalizationError{Field: FieldPrice, Raw: s, Reason: models.ErrUnsupportedCurrency}
		}
	}
	for _, m := range tengeMarkers {
		lower = strings.ReplaceAll(lower, m, "")
	}

	factor := 1.0
	for _, sc := range priceScales {
		if strings.Contains(lower, sc.marker) {
			lower = strings.ReplaceAll(lower, sc.marker, "")
			factor = sc.factor
			break
		}
	}
	lower = strings.ReplaceAll(removeSpaces(lower), "'", "")

	v, err := positiveNumber(FieldPrice, s, lower)
	if err != nil {
		return 0, err
	}
	return v * factor, nil
}

// NormalizeArea parses an area in square meters such as "78 м²" or "78,5 м2".
func NormalizeArea(raw *string) (float64, error) {
	s, ok := present(raw)
	if !ok {
		return 0, &models.NormalizationError{Field: FieldArea, Reason: models.ErrMissing}
	}

	lower := strings.ToLower(s)
	for _, m := range areaUnitMarkers {
		lower = strings.ReplaceAll(lower, m, "")
	}
	return positiveNumber(FieldArea, s, removeSpaces(lower))
}

// NormalizeFloor parses a floor, optionally from a "floor of total floors"
// composite. An absent floor is not an error and yields nil.
func NormalizeFloor(raw *string) (floor, total *int, err error) {
	s, ok := present(raw)
	if !ok {
		return nil, nil, nil
	}

	if m := compositeFloorRegexp.FindStringSubmatch(s); len(m) == 3 {
		f, errF := strconv.Atoi(m[1])
		t, errT := strconv.Atoi(m[2])
		if errF != nil || errT != nil {
			return nil, nil, &models.NormalizationError{Field: FieldFloor, Raw: s, Reason: ErrNotANumber}
		}
		if f < 0 || f > MaxFloor || t < 1 || t > MaxFloor || f > t {
			return nil, nil, &models.NormalizationError{Field: FieldFloor, Raw: s, Reason: ErrOutOfRange}
		}
		return &f, &t, nil
	}

	ints := intRegexp.FindAllString(s, -1)
	if len(ints) != 1 {
		return nil, nil, &models.NormalizationError{Field: FieldFloor, Raw: s, Reason: ErrNotANumber}
	}
	f, convErr := strconv.Atoi(ints[0])
	if convErr != nil {
		return nil, nil, &models.NormalizationError{Field: FieldFloor, Raw: s, Reason: ErrNotANumber}
	}
	if f < 0 || f > MaxFloor {
		return nil, nil, &models.NormalizationError{Field: FieldFloor, Raw: s, Reason: ErrOutOfRange}
	}
	return &f, nil, nil
}

// NormalizeCoordinates parses an optional lat/lon pair. Anything absent,
// unparseable, non-finite or out of range yields nil rather than an error.
func NormalizeCoordinates(lat, lon *string) *models.Coordinates {
	la, ok := parseCoordinate(lat)
	if !ok {
		return nil
	}
	lo, ok := parseCoordinate(lon)
	if !ok {
		return nil
	}
	if !geo.ValidPoint(la, lo) {
		return nil
	}
	return &models.Coordinates{Lat: la, Lon: lo}
}

// NormalizeRooms reads the leading room count of strings like "2-комнатная".
func NormalizeRooms(raw *string) *int {
	s, ok := present(raw)
	if !ok {
		return nil
	}
	m := intRegexp.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// NormalizeAddress collapses whitespace and takes the last comma-separated
// part as the street.
func NormalizeAddress(raw *string) models.Address {
	s, ok := present(raw)
	if !ok {
		return models.Address{}
	}
	full := normaliseText(s)
	parts := strings.Split(full, ",")
	return models.Address{
		Full:   full,
		Street: strings.TrimSpace(parts[len(parts)-1]),
	}
}

// Normalize runs every field normalizer over raw. Failures on price, area and
// floor are collected in that order; optional fields never fail.
func Normalize(raw *models.ListingRaw) *models.Normalized {
	n := &models.Normalized{
		Rooms:       NormalizeRooms(raw.Rooms),
		Address:     NormalizeAddress(raw.Address),
		Coordinates: NormalizeCoordinates(raw.Latitude, raw.Longitude),
	}

	var err error
	if n.Price, err = NormalizePrice(raw.Price); err != nil {
		n.Errors = append(n.Errors, asNormalizationError(err))
	}
	if n.Area, err = NormalizeArea(raw.Area); err != nil {
		n.Errors = append(n.Errors, asNormalizationError(err))
	}
	if n.Floor, n.TotalFloors, err = NormalizeFloor(raw.Floor); err != nil {
		n.Errors = append(n.Errors, asNormalizationError(err))
	}
	return n
}

func asNormalizationError(err error) *models.NormalizationError {
	if ne, ok := err.(*models.NormalizationError); ok {
		return ne
	}
	return &models.NormalizationError{Reason: err}
}

func positiveNumber(field, raw, cleaned string) (float64, error) {
	match := strings.TrimRight(amountRegexp.FindString(cleaned), ".,")
	if match == "" {
		return 0, &models.NormalizationError{Field: field, Raw: raw, Reason: ErrNotANumber}
	}
	v, ok := parseAmount(strings.TrimPrefix(match, "-"))
	if !ok {
		return 0, &models.NormalizationError{Field: field, Raw: raw, Reason: ErrNotANumber}
	}
	if strings.HasPrefix(match, "-") {
		v = -v
	}
	if v <= 0 {
		return 0, &models.NormalizationError{Field: field, Raw: raw, Reason: ErrNotPositive}
	}
	return v, nil
}

// parseAmount reads digits with comma thousand groups and at most one decimal
// separator, "." or ",", followed by one or two digits. Dotted groups such as
// "45.000.000" are ambiguous and rejected.
func parseAmount(tok string) (float64, bool) {
	intPart, frac := tok, ""
	if i := strings.LastIndexAny(tok, ".,"); i >= 0 {
		if tail := tok[i+1:]; len(tail) >= 1 && len(tail) <= 2 {
			intPart, frac = tok[:i], tail
		}
	}
	if strings.Contains(intPart, ".") {
		return 0, false
	}

	groups := strings.Split(intPart, ",")
	if len(groups) > 1 && len(groups[0]) > 3 {
		return 0, false
	}
	for i, g := range groups {
		if g == "" || (i > 0 && len(g) != 3) {
			return 0, false
		}
	}

	num := strings.Join(groups, "")
	if frac != "" {
		num += "." + frac
	}
	v, err := strconv.ParseFloat(num, 64)
	return v, err == nil
}

func parseCoordinate(raw *string) (float64, bool) {
	s, ok := present(raw)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func present(raw *string) (string, bool) {
	if raw == nil {
		return "", false
	}
	s := strings.TrimSpace(*raw)
	return s, s != ""
}

func removeSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
