package krisha

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"krisha-scraper/models"
)

const (
	selTitle   = ".offer__advert-title h1"
	selPrice   = ".offer__price"
	selArea    = `[data-name="live.square"] .offer__advert-short-info`
	selFloor   = `[data-name="flat.floor"] .offer__advert-short-info`
	selAddress = ".offer__location span"
	selJSData  = "script#jsdata"
)

var (
	floorInTitle = regexp.MustCompile(`\d+/\d+`)
	roomsInTitle = regexp.MustCompile(`(\d+)-комн`)
)

// jsAdvert is the part of the embedded page state the extractor reads.
type jsAdvert struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	AddressTitle string      `json:"addressTitle"`
	Rooms        json.Number `json:"rooms"`
	Square       json.Number `json:"square"`
	Price        json.Number `json:"price"`
	UserType     string      `json:"userType"`
	Map          struct {
		Lat json.Number `json:"lat"`
		Lon json.Number `json:"lon"`
	} `json:"map"`
}

// Extractor pulls the raw fields out of a listing page. Visible markup wins;
// the embedded jsdata state fills whatever the markup lacks.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses html. It returns *models.ExtractError when the page carries
// neither a listing title nor embedded advert data. Missing individual fields
// are left nil for the normalizer to judge.
func (e *Extractor) Extract(html []byte) (*models.ListingRaw, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, &models.ExtractError{Reason: "parse html: " + err.Error()}
	}

	advert := readJSData(doc)
	title := text(doc, selTitle)
	if title == "" && advert == nil {
		return nil, &models.ExtractError{Reason: "listing markup not found"}
	}
	if advert == nil {
		advert = &jsAdvert{}
	}
	if title == "" {
		title = strings.TrimSpace(advert.Title)
	}

	raw := &models.ListingRaw{
		Title:      title,
		Price:      firstOf(text(doc, selPrice), advert.Price.String()),
		Area:       firstOf(text(doc, selArea), advert.Square.String()),
		Floor:      optional(text(doc, selFloor)),
		Rooms:      optional(advert.Rooms.String()),
		Address:    firstOf(text(doc, selAddress), advert.AddressTitle),
		Latitude:   optional(advert.Map.Lat.String()),
		Longitude:  optional(advert.Map.Lon.String()),
		SellerType: advert.UserType,
	}

	// titles read like "2-комнатная квартира, 78 м², 5/9 этаж"
	if raw.Floor == nil {
		if m := floorInTitle.FindString(title); m != "" {
			raw.Floor = &m
		}
	}
	if raw.Rooms == nil {
		if m := roomsInTitle.FindStringSubmatch(title); m != nil {
			raw.Rooms = &m[1]
		}
	}

	return raw, nil
}

func readJSData(doc *goquery.Document) *jsAdvert {
	script := strings.TrimSpace(doc.Find(selJSData).First().Text())
	start := strings.Index(script, "{")
	end := strings.LastIndex(script, "}")
	if start < 0 || end <= start {
		return nil
	}

	var state struct {
		Advert *jsAdvert `json:"advert"`
	}
	if err := json.Unmarshal([]byte(script[start:end+1]), &state); err != nil {
		return nil
	}
	return state.Advert
}

func text(doc *goquery.Document, selector string) string {
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstOf(values ...string) *string {
	for _, v := range values {
		if p := optional(v); p != nil {
			return p
		}
	}
	return nil
}
