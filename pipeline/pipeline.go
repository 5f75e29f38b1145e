// Package pipeline drives a single listing URL through fetch, extraction,
// normalization, geolocation and validation, and runs many of them at once.
package pipeline

import (
	"context"
	"time"

	"krisha-scraper/metrics"
	"krisha-scraper/models"
	"krisha-scraper/scraper/krisha"
	"krisha-scraper/services"
	"krisha-scraper/utils"
)

// Extractor turns a listing page into raw fields.
type Extractor interface {
	Extract(html []byte) (*models.ListingRaw, error)
}

// Locator assigns a district to optional coordinates.
type Locator interface {
	LookupPoint(c *models.Coordinates) string
}

// RecordSink receives emitted records. An error means the record was kept but
// could not be persisted yet.
type RecordSink interface {
	Add(rec *models.ListingRecord) error
}

// Outcome is the terminal state of one target: exactly one of Record and
// Rejection is set.
type Outcome struct {
	Target    models.Target
	Record    *models.ListingRecord
	Rejection *models.RejectionReport
}

func (o Outcome) Emitted() bool { return o.Record != nil }

// Pipeline processes one target at a time and holds no per-target state, so
// a single value is shared by all workers.
type Pipeline struct {
	fetcher   krisha.Fetcher
	extractor Extractor
	geo       Locator
	validator *services.Validator
	sink      RecordSink
	logger    *utils.Logger
	now       func() time.Time
}

func New(fetcher krisha.Fetcher, extractor Extractor, geo Locator, validator *services.Validator, sink RecordSink, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		geo:       geo,
		validator: validator,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the retrieval timestamp source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process runs target through every stage. The first failing stage ends
// processing with a rejection tagged with that stage.
func (p *Pipeline) Process(ctx context.Context, target models.Target) Outcome {
	// an in-flight fetch is allowed to finish after the run is interrupted
	page, err := p.fetcher.Fetch(krisha.Detach(ctx), target.URL)
	if err != nil {
		return p.reject(target, models.StageFetching, err)
	}
	retrievedAt := p.now()

	raw, err := p.extractor.Extract(page.HTML)
	if err != nil {
		return p.reject(target, models.StageExtracting, err)
	}
	if raw.PropertyType == "" {
		raw.PropertyType = target.PropertyType
	}
	if raw.DealType == "" {
		raw.DealType = target.DealType
	}

	n := services.Normalize(raw)
	if len(n.Errors) > 0 {
		return p.reject(target, models.StageNormalizing, n.Errors[0])
	}

	district := p.geo.LookupPoint(n.Coordinates)

	rec, err := p.validator.Validate(target, raw, n, district, retrievedAt)
	if err != nil {
		return p.reject(target, models.StageValidating, err)
	}

	if p.sink != nil {
		if err := p.sink.Add(rec); err != nil {
			p.logger.Warn("[pipeline] Buffered %s but rotation flush failed: %v", rec.URL, err)
		}
	}
	metrics.ListingsEmitted.WithLabelValues(string(rec.PropertyType), string(rec.DealType)).Inc()
	p.logger.Debug("[pipeline] Emitted %s (%s)", rec.URL, rec.District)
	return Outcome{Target: target, Record: rec}
}

func (p *Pipeline) reject(target models.Target, stage models.Stage, err error) Outcome {
	metrics.ListingsRejected.WithLabelValues(string(stage)).Inc()
	p.logger.Warn("[pipeline] Rejected %s at %s: %v", target.URL, stage, err)
	return Outcome{
		Target: target,
		Rejection: &models.RejectionReport{
			URL:          target.URL,
			Stage:        stage,
			Err:          err,
			PropertyType: target.PropertyType,
			DealType:     target.DealType,
		},
	}
}
