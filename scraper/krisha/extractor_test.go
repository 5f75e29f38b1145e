package krisha

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"krisha-scraper/models"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestExtractFullListing(t *testing.T) {
	raw, err := NewExtractor().Extract(readFixture(t, "listing.html"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"title", raw.Title, "2-комнатная квартира, 78 м², 5/9 этаж"},
		{"price", deref(raw.Price), "45 000 000 〒"},
		{"area", deref(raw.Area), "78 м²"},
		{"floor", deref(raw.Floor), "5 из 9"},
		{"rooms", deref(raw.Rooms), "2"},
		{"address", deref(raw.Address), "Алматы, Бостандыкский р-н, Розыбакиева 247"},
		{"lat", deref(raw.Latitude), "43.222"},
		{"lon", deref(raw.Longitude), "76.851"},
		{"seller", raw.SellerType, "owner"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestExtractFallsBackToJSData(t *testing.T) {
	raw, err := NewExtractor().Extract(readFixture(t, "jsdata_only.html"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if raw.Title != "Дом, 180 м²" {
		t.Errorf("title: got %q", raw.Title)
	}
	if deref(raw.Price) != "120000000" {
		t.Errorf("price: got %q, want 120000000", deref(raw.Price))
	}
	if deref(raw.Area) != "180.5" {
		t.Errorf("area: got %q, want 180.5", deref(raw.Area))
	}
	if raw.Rooms != nil {
		t.Errorf("rooms: got %q, want nil", *raw.Rooms)
	}
	if raw.Floor != nil {
		t.Errorf("floor: got %q, want nil", *raw.Floor)
	}
}

func TestExtractMissingPriceIsNotAnError(t *testing.T) {
	raw, err := NewExtractor().Extract(readFixture(t, "no_price.html"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if raw.Price != nil {
		t.Errorf("price: got %q, want nil", *raw.Price)
	}
	if deref(raw.Floor) != "2/5" {
		t.Errorf("floor from title: got %q, want 2/5", deref(raw.Floor))
	}
	if deref(raw.Rooms) != "1" {
		t.Errorf("rooms from title: got %q, want 1", deref(raw.Rooms))
	}
	if raw.Latitude != nil || raw.Longitude != nil {
		t.Error("coordinates should be nil without jsdata")
	}
}

func TestExtractNotAListing(t *testing.T) {
	for _, name := range []string{"not_listing.html"} {
		_, err := NewExtractor().Extract(readFixture(t, name))
		var ee *models.ExtractError
		if !errors.As(err, &ee) {
			t.Errorf("%s: got %v, want *models.ExtractError", name, err)
		}
	}

	_, err := NewExtractor().Extract(nil)
	var ee *models.ExtractError
	if !errors.As(err, &ee) {
		t.Errorf("empty document: got %v, want *models.ExtractError", err)
	}
}
