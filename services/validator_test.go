package services

import (
	"errors"
	"testing"
	"time"

	"krisha-scraper/models"
)

func intp(n int) *int { return &n }

var testTarget = models.Target{
	URL:          "https://krisha.kz/a/show/100",
	City:         "almaty",
	PropertyType: models.PropertyApartment,
	DealType:     models.DealSale,
}

func validRaw() *models.ListingRaw {
	return &models.ListingRaw{
		Title:        "2-комнатная квартира, 78 м², 5/9 этаж",
		Price:        strp("45 000 000 ₸"),
		Area:         strp("78 м²"),
		Floor:        strp("5/9"),
		Address:      strp("Алматы, Бостандыкский р-н, Розыбакиева 247"),
		Latitude:     strp("43.222"),
		Longitude:    strp("76.851"),
		SellerType:   "Owner",
		PropertyType: models.PropertyApartment,
		DealType:     models.DealSale,
	}
}

func TestValidateBuildsRecord(t *testing.T) {
	v := NewValidator()
	raw := validRaw()
	ts := time.Date(2025, 4, 3, 10, 0, 0, 0, time.UTC)

	rec, err := v.Validate(testTarget, raw, Normalize(raw), "Bostandyk", ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Price != 45000000 || rec.Area != 78 {
		t.Errorf("price/area: got %.0f/%.0f", rec.Price, rec.Area)
	}
	if rec.Floor == nil || *rec.Floor != 5 || rec.TotalFloors == nil || *rec.TotalFloors != 9 {
		t.Errorf("floor: got %v/%v", rec.Floor, rec.TotalFloors)
	}
	if rec.District != "Bostandyk" {
		t.Errorf("district: got %q", rec.District)
	}
	if rec.Geohash == "" || len(rec.Geohash) != geohashPrecision {
		t.Errorf("geohash: got %q", rec.Geohash)
	}
	if rec.SellerType != "owner" {
		t.Errorf("seller: got %q", rec.SellerType)
	}
	if !rec.RetrievedAt.Equal(ts) {
		t.Errorf("retrieved at: got %v", rec.RetrievedAt)
	}

	again, _ := v.Validate(testTarget, raw, Normalize(raw), "Bostandyk", ts)
	if again.ID != rec.ID {
		t.Errorf("ID should be stable for a URL: %s vs %s", rec.ID, again.ID)
	}
}

func TestValidateDefaultsDistrictToUnknown(t *testing.T) {
	v := NewValidator()
	raw := validRaw()
	raw.Latitude, raw.Longitude = nil, nil

	rec, err := v.Validate(testTarget, raw, Normalize(raw), "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.District != models.UnknownDistrict {
		t.Errorf("district: got %q, want %q", rec.District, models.UnknownDistrict)
	}
	if rec.Coordinates != nil || rec.Geohash != "" {
		t.Errorf("expected no coordinates, got %+v %q", rec.Coordinates, rec.Geohash)
	}
}

func TestValidateOrderMissingFieldBeforeRange(t *testing.T) {
	v := NewValidator()
	raw := validRaw()
	raw.Price = nil
	n := &models.Normalized{Price: 0, Area: 78, Floor: intp(500)}

	_, err := v.Validate(testTarget, raw, n, "Bostandyk", time.Now())
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != FieldPrice || ve.Reason != "required field missing" {
		t.Errorf("got %s/%q, want price/required field missing", ve.Field, ve.Reason)
	}
}

func TestValidateOrderCoercionBeforeEnum(t *testing.T) {
	v := NewValidator()
	raw := validRaw()
	raw.Floor = strp("abc")
	raw.DealType = "lease"

	_, err := v.Validate(testTarget, raw, Normalize(raw), "", time.Now())
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != FieldFloor || ve.Reason != "type coercion failed" {
		t.Errorf("got %s/%q, want floor/type coercion failed", ve.Field, ve.Reason)
	}
	var ne *models.NormalizationError
	if !errors.As(err, &ne) {
		t.Errorf("coercion error should wrap the NormalizationError")
	}
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name  string
		n     *models.Normalized
		field string
	}{
		{"zero price", &models.Normalized{Price: 0, Area: 10}, FieldPrice},
		{"negative area", &models.Normalized{Price: 10, Area: -1}, FieldArea},
		{"floor too high", &models.Normalized{Price: 10, Area: 10, Floor: intp(201)}, FieldFloor},
		{"floor above total", &models.Normalized{Price: 10, Area: 10, Floor: intp(10), TotalFloors: intp(9)}, FieldFloor},
	}

	for _, tt := range tests {
		_, err := v.Validate(testTarget, validRaw(), tt.n, "", time.Now())
		var ve *models.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", tt.name, err)
			continue
		}
		if ve.Field != tt.field {
			t.Errorf("%s: field got %q, want %q", tt.name, ve.Field, tt.field)
		}
	}
}

func TestValidateEnums(t *testing.T) {
	v := NewValidator()

	raw := validRaw()
	raw.PropertyType = "office"
	_, err := v.Validate(testTarget, raw, Normalize(raw), "", time.Now())
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Field != FieldPropertyType {
		t.Errorf("property type: got %v", err)
	}

	raw = validRaw()
	raw.DealType = "lease"
	_, err = v.Validate(testTarget, raw, Normalize(raw), "", time.Now())
	if !errors.As(err, &ve) || ve.Field != FieldDealType {
		t.Errorf("deal type: got %v", err)
	}
}
