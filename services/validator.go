package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"

	"krisha-scraper/models"
)

// geohashPrecision of 7 characters is roughly a 150 m cell.
const geohashPrecision = 7

// Validator turns normalized fields into a ListingRecord or rejects them.
// Checks always run in the same order so identical bad input reports the
// same error: required fields, coercion, ranges, enums.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate builds the record for target from its raw fields, their normalized
// values and the district assigned by the geo index.
func (val *Validator) Validate(target models.Target, raw *models.ListingRaw, n *models.Normalized, district string, retrievedAt time.Time) (*models.ListingRecord, error) {
	if err := val.checkRequired(raw); err != nil {
		return nil, err
	}
	if len(n.Errors) > 0 {
		first := n.Errors[0]
		return nil, &models.ValidationError{Field: first.Field, Reason: "type coercion failed", Err: first}
	}
	if err := val.checkRanges(n); err != nil {
		return nil, err
	}
	if err := val.checkEnums(raw); err != nil {
		return nil, err
	}

	if district == "" {
		district = models.UnknownDistrict
	}

	rec := &models.ListingRecord{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(target.URL)).String(),
		URL:          target.URL,
		City:         target.City,
		Title:        normaliseText(raw.Title),
		Price:        n.Price,
		Area:         n.Area,
		Floor:        n.Floor,
		TotalFloors:  n.TotalFloors,
		Rooms:        n.Rooms,
		Address:      n.Address,
		Coordinates:  n.Coordinates,
		District:     district,
		SellerType:   strings.ToLower(strings.TrimSpace(raw.SellerType)),
		PropertyType: raw.PropertyType,
		DealType:     raw.DealType,
		RetrievedAt:  retrievedAt.UTC(),
	}
	if n.Coordinates != nil {
		rec.Geohash = geohash.EncodeWithPrecision(n.Coordinates.Lat, n.Coordinates.Lon, geohashPrecision)
	}
	return rec, nil
}

func (val *Validator) checkRequired(raw *models.ListingRaw) error {
	required := []struct {
		field   string
		present bool
	}{
		{FieldPrice, isPresent(raw.Price)},
		{FieldArea, isPresent(raw.Area)},
		{FieldPropertyType, raw.PropertyType != ""},
		{FieldDealType, raw.DealType != ""},
	}
	for _, r := range required {
		if !r.present {
			return &models.ValidationError{Field: r.field, Reason: "required field missing", Err: models.ErrMissing}
		}
	}
	return nil
}

func (val *Validator) checkRanges(n *models.Normalized) error {
	if err := val.v.Var(n.Price, "gt=0"); err != nil {
		return rangeError(FieldPrice, n.Price, err)
	}
	if err := val.v.Var(n.Area, "gt=0"); err != nil {
		return rangeError(FieldArea, n.Area, err)
	}
	if n.Floor != nil {
		if err := val.v.Var(*n.Floor, fmt.Sprintf("gte=0,lte=%d", MaxFloor)); err != nil {
			return rangeError(FieldFloor, *n.Floor, err)
		}
	}
	if n.TotalFloors != nil {
		if err := val.v.Var(*n.TotalFloors, fmt.Sprintf("gte=1,lte=%d", MaxFloor)); err != nil {
			return rangeError(FieldFloor, *n.TotalFloors, err)
		}
		if n.Floor != nil && *n.Floor > *n.TotalFloors {
			return &models.ValidationError{
				Field:  FieldFloor,
				Reason: fmt.Sprintf("floor %d above total floors %d", *n.Floor, *n.TotalFloors),
				Err:    ErrOutOfRange,
			}
		}
	}
	return nil
}

func (val *Validator) checkEnums(raw *models.ListingRaw) error {
	if err := val.v.Var(string(raw.PropertyType), "oneof=apartment house"); err != nil {
		return &models.ValidationError{
			Field:  FieldPropertyType,
			Reason: fmt.Sprintf("unknown property type %q", raw.PropertyType),
			Err:    err,
		}
	}
	if err := val.v.Var(string(raw.DealType), "oneof=rent sale"); err != nil {
		return &models.ValidationError{
			Field:  FieldDealType,
			Reason: fmt.Sprintf("unknown deal type %q", raw.DealType),
			Err:    err,
		}
	}
	return nil
}

func rangeError(field string, value any, err error) error {
	return &models.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf("value %v out of range", value),
		Err:    err,
	}
}

func isPresent(raw *string) bool {
	_, ok := present(raw)
	return ok
}
