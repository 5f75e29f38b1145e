package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"krisha-scraper/metrics"
	"krisha-scraper/models"
	"krisha-scraper/utils"
)

const partGlob = "part-*.parquet"

// ListingRow is the on-disk shape of a ListingRecord.
type ListingRow struct {
	ID           string   `parquet:"id"`
	URL          string   `parquet:"url"`
	City         string   `parquet:"city"`
	District     string   `parquet:"district"`
	Title        string   `parquet:"title"`
	Address      string   `parquet:"address"`
	Street       string   `parquet:"street"`
	PropertyType string   `parquet:"property"`
	DealType     string   `parquet:"deal_type"`
	Rooms        *int32   `parquet:"rooms"`
	Square       float64  `parquet:"square"`
	Price        float64  `parquet:"price"`
	Seller       string   `parquet:"seller"`
	Latitude     *float64 `parquet:"latitude"`
	Longitude    *float64 `parquet:"longitude"`
	Geohash      string   `parquet:"geohash"`
	Floor        *int32   `parquet:"floor"`
	TotalFloors  *int32   `parquet:"total_floors"`
	RetrievedAt  int64    `parquet:"extract_datetime,timestamp(millisecond)"`
}

// ToRow flattens a record for writing.
func ToRow(r *models.ListingRecord) ListingRow {
	row := ListingRow{
		ID:           r.ID,
		URL:          r.URL,
		City:         r.City,
		District:     r.District,
		Title:        r.Title,
		Address:      r.Address.Full,
		Street:       r.Address.Street,
		PropertyType: string(r.PropertyType),
		DealType:     string(r.DealType),
		Rooms:        int32Ptr(r.Rooms),
		Square:       r.Area,
		Price:        r.Price,
		Seller:       r.SellerType,
		Geohash:      r.Geohash,
		Floor:        int32Ptr(r.Floor),
		TotalFloors:  int32Ptr(r.TotalFloors),
		RetrievedAt:  r.RetrievedAt.UnixMilli(),
	}
	if r.Coordinates != nil {
		lat, lon := r.Coordinates.Lat, r.Coordinates.Lon
		row.Latitude = &lat
		row.Longitude = &lon
	}
	return row
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

// WriterOptions configures bucket rotation. Zero values disable the rule.
type WriterOptions struct {
	MaxRows int
	MaxAge  time.Duration
}

type bucket struct {
	records []*models.ListingRecord
	oldest  time.Time
}

// partition serializes file writes into one partition directory.
type partition struct {
	mu       sync.Mutex
	prepared bool
	seq      int
}

// ParquetWriter buffers records per PartitionKey and writes each partition to
// its own directory as part-NNNNN.parquet files. It is safe for concurrent use.
type ParquetWriter struct {
	dir    string
	opts   WriterOptions
	logger *utils.Logger
	now    func() time.Time

	mu         sync.Mutex
	buckets    map[models.PartitionKey]*bucket
	partitions map[models.PartitionKey]*partition
	files      []string
}

func NewParquetWriter(dir string, opts WriterOptions, logger *utils.Logger) *ParquetWriter {
	return &ParquetWriter{
		dir:        dir,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		buckets:    make(map[models.PartitionKey]*bucket),
		partitions: make(map[models.PartitionKey]*partition),
	}
}

// Add buffers rec. When its bucket hits a rotation limit the bucket is written
// straight away; a failed write keeps the records buffered and is returned as
// a *models.WriteError.
func (w *ParquetWriter) Add(rec *models.ListingRecord) error {
	key := models.KeyFor(rec)

	w.mu.Lock()
	b, ok := w.buckets[key]
	if !ok {
		b = &bucket{}
		w.buckets[key] = b
	}
	if len(b.records) == 0 {
		b.oldest = w.now()
	}
	b.records = append(b.records, rec)

	var ready []*models.ListingRecord
	if w.due(b) {
		ready = b.records
		b.records = nil
	}
	w.mu.Unlock()

	if ready == nil {
		return nil
	}
	return w.writeOrRequeue(key, ready)
}

func (w *ParquetWriter) due(b *bucket) bool {
	if w.opts.MaxRows > 0 && len(b.records) >= w.opts.MaxRows {
		return true
	}
	return w.opts.MaxAge > 0 && w.now().Sub(b.oldest) >= w.opts.MaxAge
}

// Flush writes every non-empty bucket. Partitions are written independently:
// a failure is reported as a *models.WriteError joined into the result, and
// that partition's records stay buffered for the next Flush. Buckets that were
// written are emptied, so a repeated Flush writes nothing new.
func (w *ParquetWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := make(map[models.PartitionKey][]*models.ListingRecord, len(w.buckets))
	for key, b := range w.buckets {
		if len(b.records) > 0 {
			pending[key] = b.records
			b.records = nil
		}
	}
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(4)
	for key, records := range pending {
		key, records := key, records
		g.Go(func() error {
			var err error
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = &models.WriteError{Partition: key, Err: ctxErr}
				w.requeue(key, records)
			} else {
				err = w.writeOrRequeue(key, records)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Files returns the paths written so far, in write order.
func (w *ParquetWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// Buffered returns the number of records not yet written.
func (w *ParquetWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buckets {
		n += len(b.records)
	}
	return n
}

// PartitionDir is where records of key are written.
func (w *ParquetWriter) PartitionDir(key models.PartitionKey) string {
	return filepath.Join(w.dir, filepath.FromSlash(key.Dir()))
}

func (w *ParquetWriter) writeOrRequeue(key models.PartitionKey, records []*models.ListingRecord) error {
	path, err := w.writePartition(key, records)
	if err != nil {
		w.requeue(key, records)
		metrics.FlushErrors.WithLabelValues(key.String()).Inc()
		w.logger.Error("[writer] Partition %s failed: %v", key, err)
		return &models.WriteError{Partition: key, Err: err}
	}

	w.mu.Lock()
	w.files = append(w.files, path)
	w.mu.Unlock()

	metrics.RowsWritten.WithLabelValues(key.String()).Add(float64(len(records)))
	w.logger.Info("[writer] Wrote %d rows to %s", len(records), path)
	return nil
}

func (w *ParquetWriter) requeue(key models.PartitionKey, records []*models.ListingRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buckets[key]
	if !ok {
		b = &bucket{}
		w.buckets[key] = b
	}
	if len(b.records) == 0 {
		b.oldest = w.now()
	}
	b.records = append(records, b.records...)
}

func (w *ParquetWriter) partition(key models.PartitionKey) *partition {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.partitions[key]
	if !ok {
		p = &partition{}
		w.partitions[key] = p
	}
	return p
}

// writePartition writes records as the next part file of key. Part files
// left by an earlier run are removed only after the first part of this run
// is in place, so a failed write leaves the old partition readable.
func (w *ParquetWriter) writePartition(key models.PartitionKey, records []*models.ListingRecord) (string, error) {
	p := w.partition(key)
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := w.PartitionDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "create partition dir")
	}

	final := filepath.Join(dir, fmt.Sprintf("part-%05d.parquet", p.seq))
	if err := writeRows(dir, final, rowsFor(records)); err != nil {
		return "", err
	}
	p.seq++

	if !p.prepared {
		p.prepared = true
		w.removeStale(dir, final)
	}
	return final, nil
}

// removeStale deletes every part file in dir except keep. Failures are only
// logged: the new part is already written and must not be retried.
func (w *ParquetWriter) removeStale(dir, keep string) {
	stale, err := filepath.Glob(filepath.Join(dir, partGlob))
	if err != nil {
		w.logger.Warn("[writer] Listing old parts in %s: %v", dir, err)
		return
	}
	removed := 0
	for _, f := range stale {
		if f == keep {
			continue
		}
		if err := os.RemoveAll(f); err != nil {
			w.logger.Warn("[writer] Old part %s not removed: %v", f, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("[writer] Replaced %d old part files in %s", removed, dir)
	}
}

// rowsFor orders records by (ID, URL) and drops repeated IDs so file content
// does not depend on arrival order.
func rowsFor(records []*models.ListingRecord) []ListingRow {
	sorted := make([]*models.ListingRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		if sorted[i].URL != sorted[j].URL {
			return sorted[i].URL < sorted[j].URL
		}
		return sorted[i].RetrievedAt.Before(sorted[j].RetrievedAt)
	})

	rows := make([]ListingRow, 0, len(sorted))
	for i, r := range sorted {
		// keep the latest retrieval of a repeated listing
		if i+1 < len(sorted) && sorted[i+1].ID == r.ID {
			continue
		}
		rows = append(rows, ToRow(r))
	}
	return rows
}

// writeRows writes to a temp file in dir and renames it over final, so readers
// never see a partial file.
func writeRows(dir, final string, rows []ListingRow) (err error) {
	tmp, err := os.CreateTemp(dir, ".part-*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	pw := parquet.NewGenericWriter[ListingRow](tmp)
	if _, err = pw.Write(rows); err != nil {
		return eris.Wrap(err, "write rows")
	}
	if err = pw.Close(); err != nil {
		return eris.Wrap(err, "close parquet writer")
	}
	if err = tmp.Sync(); err != nil {
		return eris.Wrap(err, "sync temp file")
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmp.Name(), final); err != nil {
		return eris.Wrap(err, "rename into place")
	}
	return nil
}

// ReadPartition reads back every row written to a partition directory,
// ordered by (ID, URL).
func ReadPartition(dir string) ([]ListingRow, error) {
	files, err := filepath.Glob(filepath.Join(dir, partGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var rows []ListingRow
	for _, f := range files {
		part, err := parquet.ReadFile[ListingRow](f)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", f)
		}
		rows = append(rows, part...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].URL < rows[j].URL
	})
	return rows, nil
}
