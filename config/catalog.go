package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"krisha-scraper/models"
)

// Catalog describes what to crawl: every search is run in every city.
type Catalog struct {
	BaseURL  string            `mapstructure:"base_url"`
	Headers  map[string]string `mapstructure:"headers"`
	Searches []Search          `mapstructure:"searches"`
	Cities   []City            `mapstructure:"cities"`
}

type Search struct {
	Path         string `mapstructure:"path"`
	PropertyType string `mapstructure:"property_type"`
	DealType     string `mapstructure:"deal_type"`
}

type City struct {
	City string `mapstructure:"city"`
	Path string `mapstructure:"path"`
}

// SearchEntry is one search results listing to page through.
type SearchEntry struct {
	URL          string
	City         string
	PropertyType models.PropertyType
	DealType     models.DealType
}

func (e SearchEntry) Combo() Combo {
	return Combo{DealType: e.DealType, PropertyType: e.PropertyType}
}

// Combo is a (deal type, property type) pair, written "sale:apartment".
type Combo struct {
	DealType     models.DealType
	PropertyType models.PropertyType
}

func (c Combo) String() string {
	return string(c.DealType) + ":" + string(c.PropertyType)
}

// ParseCombo parses "deal:property".
func ParseCombo(s string) (Combo, error) {
	deal, property, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Combo{}, eris.Errorf("combo %q: want deal:property", s)
	}
	c := Combo{DealType: models.DealType(deal), PropertyType: models.PropertyType(property)}
	switch c.DealType {
	case models.DealRent, models.DealSale:
	default:
		return Combo{}, eris.Errorf("combo %q: unknown deal type %q", s, deal)
	}
	switch c.PropertyType {
	case models.PropertyApartment, models.PropertyHouse:
	default:
		return Combo{}, eris.Errorf("combo %q: unknown property type %q", s, property)
	}
	return c, nil
}

// LoadCatalog reads a yaml or json catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("base_url", "https://krisha.kz")

	if err := v.ReadInConfig(); err != nil {
		return nil, eris.Wrapf(err, "read catalog %s", path)
	}

	var cat Catalog
	if err := v.Unmarshal(&cat); err != nil {
		return nil, eris.Wrapf(err, "unmarshal catalog %s", path)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that the catalog can produce at least one search.
func (c *Catalog) Validate() error {
	var errs []string

	if c.BaseURL == "" {
		errs = append(errs, "base_url is required")
	}
	if len(c.Searches) == 0 {
		errs = append(errs, "at least one search is required")
	}
	if len(c.Cities) == 0 {
		errs = append(errs, "at least one city is required")
	}
	for i, s := range c.Searches {
		if _, err := ParseCombo(s.DealType + ":" + s.PropertyType); err != nil {
			errs = append(errs, fmt.Sprintf("searches[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("catalog validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Entries builds the search x city cross product. With a non-empty filter only
// the listed combos are kept.
func (c *Catalog) Entries(filter []Combo) []SearchEntry {
	keep := func(Combo) bool { return true }
	if len(filter) > 0 {
		wanted := make(map[Combo]bool, len(filter))
		for _, f := range filter {
			wanted[f] = true
		}
		keep = func(c Combo) bool { return wanted[c] }
	}

	base := strings.TrimRight(c.BaseURL, "/")
	var entries []SearchEntry
	for _, s := range c.Searches {
		for _, city := range c.Cities {
			e := SearchEntry{
				URL:          base + "/" + strings.Trim(s.Path, "/") + "/" + strings.Trim(city.Path, "/") + "/",
				City:         city.City,
				PropertyType: models.PropertyType(s.PropertyType),
				DealType:     models.DealType(s.DealType),
			}
			if keep(e.Combo()) {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

// LoadTargetList reads listing URLs, one per line, tagging each with combo and
// city. Blank lines and lines starting with # are skipped.
func LoadTargetList(path string, combo Combo, city string) ([]models.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open url list %s", path)
	}
	defer f.Close()

	var targets []models.Target
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, models.Target{
			URL:          line,
			City:         city,
			PropertyType: combo.PropertyType,
			DealType:     combo.DealType,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read url list %s", path)
	}
	return targets, nil
}
