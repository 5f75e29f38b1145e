package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"krisha-scraper/geo"
	"krisha-scraper/models"
	"krisha-scraper/scraper/krisha"
	"krisha-scraper/services"
	"krisha-scraper/storage"
	"krisha-scraper/utils"
)

var fixedNow = time.Date(2025, time.April, 3, 12, 0, 0, 0, time.UTC)

// fakeFetcher serves pages from memory; URLs in errs fail with that error.
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*krisha.Page, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, &models.FetchError{URL: url, StatusCode: 404}
	}
	return &krisha.Page{URL: url, HTML: []byte(html), StatusCode: 200}, nil
}

// countingExtractor records how often extraction ran.
type countingExtractor struct {
	next  Extractor
	calls atomic.Int32
}

func (c *countingExtractor) Extract(html []byte) (*models.ListingRaw, error) {
	c.calls.Add(1)
	return c.next.Extract(html)
}

// memorySink collects emitted records.
type memorySink struct {
	mu      sync.Mutex
	records []*models.ListingRecord
}

func (m *memorySink) Add(rec *models.ListingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func listingHTML(price, area string, lat, lon float64) string {
	priceBlock := ""
	if price != "" {
		priceBlock = `<div class="offer__price">` + price + `</div>`
	}
	return fmt.Sprintf(`<html><body>
<div class="offer__advert-title"><h1>2-комнатная квартира</h1></div>
%s
<div class="offer__info-item" data-name="live.square"><div class="offer__advert-short-info">%s</div></div>
<div class="offer__location"><span>Алматы, Бостандыкский р-н, Розыбакиева 247</span></div>
<script id="jsdata">window.data = {"advert":{"map":{"lat":%g,"lon":%g}}};</script>
</body></html>`, priceBlock, area, lat, lon)
}

func loadIndex(t *testing.T) *geo.Index {
	t.Helper()
	idx, err := geo.Load(filepath.Join("..", "geo", "testdata", "almaty.geojson"))
	if err != nil {
		t.Fatalf("load geo index: %v", err)
	}
	return idx
}

func newTestPipeline(t *testing.T, f krisha.Fetcher, ex Extractor, sink RecordSink) *Pipeline {
	t.Helper()
	return New(f, ex, loadIndex(t), services.NewValidator(), sink, utils.NewNopLogger()).
		WithClock(func() time.Time { return fixedNow })
}

var saleApartment = models.Target{
	URL:          "https://krisha.kz/a/show/1001",
	City:         "Almaty",
	PropertyType: models.PropertyApartment,
	DealType:     models.DealSale,
}

func TestProcessEmitsRecord(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		saleApartment.URL: listingHTML("45 000 000 ₸", "78 м²", 43.222, 76.851),
	}}
	sink := &memorySink{}
	out := newTestPipeline(t, f, krisha.NewExtractor(), sink).Process(context.Background(), saleApartment)

	if !out.Emitted() {
		t.Fatalf("expected record, got rejection %+v", out.Rejection)
	}
	rec := out.Record
	if rec.Price != 45000000 || rec.Area != 78 {
		t.Errorf("price/area: got %v/%v, want 45000000/78", rec.Price, rec.Area)
	}
	if rec.District != "Bostandyk" {
		t.Errorf("district: got %q, want Bostandyk", rec.District)
	}
	if rec.PropertyType != models.PropertyApartment || rec.DealType != models.DealSale {
		t.Errorf("tags: got %s/%s", rec.PropertyType, rec.DealType)
	}
	if !rec.RetrievedAt.Equal(fixedNow) {
		t.Errorf("RetrievedAt: got %v, want %v", rec.RetrievedAt, fixedNow)
	}
	if rec.Geohash == "" || rec.ID == "" {
		t.Error("geohash and id should be set")
	}
	if len(sink.records) != 1 {
		t.Errorf("sink: got %d records, want 1", len(sink.records))
	}
}

func TestProcessMissingPriceRejectsAtNormalizing(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		saleApartment.URL: listingHTML("", "78 м²", 43.222, 76.851),
	}}
	sink := &memorySink{}
	out := newTestPipeline(t, f, krisha.NewExtractor(), sink).Process(context.Background(), saleApartment)

	if out.Emitted() {
		t.Fatal("expected rejection")
	}
	if out.Rejection.Stage != models.StageNormalizing {
		t.Errorf("stage: got %s, want Normalizing", out.Rejection.Stage)
	}
	var ne *models.NormalizationError
	if !errors.As(out.Rejection.Err, &ne) || ne.Field != services.FieldPrice {
		t.Errorf("error: got %v, want NormalizationError on price", out.Rejection.Err)
	}
	if len(sink.records) != 0 {
		t.Error("rejected listing must not reach the sink")
	}
}

func TestProcessFetchTimeoutSkipsLaterStages(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		saleApartment.URL: &models.FetchError{URL: saleApartment.URL, Err: context.DeadlineExceeded},
	}}
	ex := &countingExtractor{next: krisha.NewExtractor()}
	out := newTestPipeline(t, f, ex, &memorySink{}).Process(context.Background(), saleApartment)

	if out.Emitted() || out.Rejection.Stage != models.StageFetching {
		t.Fatalf("expected rejection at Fetching, got %+v", out)
	}
	var fe *models.FetchError
	if !errors.As(out.Rejection.Err, &fe) {
		t.Errorf("error: got %v, want *models.FetchError", out.Rejection.Err)
	}
	if ex.calls.Load() != 0 {
		t.Error("extractor must not run after a failed fetch")
	}
}

func TestProcessExtractFailure(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{saleApartment.URL: "<html><body>gone</body></html>"}}
	out := newTestPipeline(t, f, krisha.NewExtractor(), &memorySink{}).Process(context.Background(), saleApartment)

	if out.Emitted() || out.Rejection.Stage != models.StageExtracting {
		t.Fatalf("expected rejection at Extracting, got %+v", out)
	}
}

func TestProcessOutsideDistrictsIsUnknown(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		saleApartment.URL: listingHTML("30 000 000 ₸", "50 м²", 51.128, 71.430),
	}}
	out := newTestPipeline(t, f, krisha.NewExtractor(), &memorySink{}).Process(context.Background(), saleApartment)
	if !out.Emitted() {
		t.Fatalf("expected record, got %+v", out.Rejection)
	}
	if out.Record.District != models.UnknownDistrict {
		t.Errorf("district: got %q, want unknown", out.Record.District)
	}
}

func TestProcessForeignCurrencyRejected(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		saleApartment.URL: listingHTML("$120 000", "50 м²", 43.222, 76.851),
	}}
	out := newTestPipeline(t, f, krisha.NewExtractor(), &memorySink{}).Process(context.Background(), saleApartment)
	if out.Emitted() {
		t.Fatal("expected rejection")
	}
	if !errors.Is(out.Rejection.Err, models.ErrUnsupportedCurrency) {
		t.Errorf("error: got %v, want ErrUnsupportedCurrency", out.Rejection.Err)
	}
}

func TestProcessWritesThroughParquetWriter(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		saleApartment.URL: listingHTML("45 000 000 ₸", "78 м²", 43.222, 76.851),
	}}
	dir := t.TempDir()
	w := storage.NewParquetWriter(dir, storage.WriterOptions{}, utils.NewNopLogger())

	out := newTestPipeline(t, f, krisha.NewExtractor(), w).Process(context.Background(), saleApartment)
	if !out.Emitted() {
		t.Fatalf("expected record, got %+v", out.Rejection)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := storage.ReadPartition(w.PartitionDir(models.KeyFor(out.Record)))
	if err != nil {
		t.Fatalf("ReadPartition: %v", err)
	}
	if len(rows) != 1 || rows[0].District != "Bostandyk" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}
