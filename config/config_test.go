package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"

	"krisha-scraper/models"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("REQUEST_INTERVAL_MS", "250")
	t.Setenv("POSTGRES_ENABLED", "true")
	t.Setenv("MAX_PAGES", "not-a-number")

	cfg := Load()
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency: got %d, want 8", cfg.MaxConcurrency)
	}
	if cfg.RequestInterval() != 250*time.Millisecond {
		t.Errorf("RequestInterval: got %v, want 250ms", cfg.RequestInterval())
	}
	if !cfg.PostgresEnabled {
		t.Error("PostgresEnabled: got false, want true")
	}
	if cfg.MaxPages != 50 {
		t.Errorf("MaxPages should fall back to 50 on bad input, got %d", cfg.MaxPages)
	}
	if cfg.UploadEnabled() {
		t.Error("UploadEnabled should be false without MINIO_ENDPOINT")
	}
}

func TestParseCombo(t *testing.T) {
	tests := []struct {
		in      string
		want    Combo
		wantErr bool
	}{
		{"sale:apartment", Combo{models.DealSale, models.PropertyApartment}, false},
		{" rent:house ", Combo{models.DealRent, models.PropertyHouse}, false},
		{"sale", Combo{}, true},
		{"lease:apartment", Combo{}, true},
		{"sale:castle", Combo{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCombo(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCombo(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && len(eris.StackFrames(err)) == 0 {
			t.Errorf("ParseCombo(%q) error carries no stack trace", tt.in)
		}
		if got != tt.want {
			t.Errorf("ParseCombo(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCatalogEntries(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("testdata", "catalog.yaml"))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Headers) != 1 {
		t.Errorf("Headers: got %d, want 1", len(cat.Headers))
	}

	all := cat.Entries(nil)
	if len(all) != 6 {
		t.Fatalf("Entries(nil): got %d, want 6 (3 searches x 2 cities)", len(all))
	}
	if all[0].URL != "https://krisha.kz/prodazha/kvartiry/almaty/" {
		t.Errorf("first URL: got %q", all[0].URL)
	}
	if all[0].City != "Almaty" || all[0].DealType != models.DealSale {
		t.Errorf("first entry tags: got %+v", all[0])
	}

	sales := cat.Entries([]Combo{{models.DealSale, models.PropertyApartment}})
	if len(sales) != 2 {
		t.Errorf("Entries(sale:apartment): got %d, want 2", len(sales))
	}
	for _, e := range sales {
		if e.PropertyType != models.PropertyApartment || e.DealType != models.DealSale {
			t.Errorf("filtered entry has wrong tags: %+v", e)
		}
	}
}

func TestLoadCatalogRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "searches:\n  - path: x\n    property_type: castle\n    deal_type: sale\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadCatalog(path)
	if err == nil {
		t.Fatal("expected validation error for unknown property type and missing cities")
	}
	if len(eris.StackFrames(err)) == 0 {
		t.Errorf("validation error carries no stack trace: %v", err)
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing catalog file")
	}
}

func TestLoadTargetList(t *testing.T) {
	combo := Combo{models.DealRent, models.PropertyApartment}
	targets, err := LoadTargetList(filepath.Join("testdata", "urls.txt"), combo, "Almaty")
	if err != nil {
		t.Fatalf("LoadTargetList: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	if targets[1].URL != "https://krisha.kz/a/show/1002" || targets[1].DealType != models.DealRent {
		t.Errorf("unexpected target: %+v", targets[1])
	}
}
