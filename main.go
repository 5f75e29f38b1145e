package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"krisha-scraper/config"
	"krisha-scraper/geo"
	"krisha-scraper/metrics"
	"krisha-scraper/models"
	"krisha-scraper/pipeline"
	"krisha-scraper/scraper/krisha"
	"krisha-scraper/services"
	"krisha-scraper/storage"
	"krisha-scraper/utils"
)

const flushTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	flags := pflag.NewFlagSet("krisha-scraper", pflag.ExitOnError)
	comboArgs := flags.StringSlice("combo", nil, "deal:property pairs to crawl, e.g. sale:apartment (default: all in catalog)")
	concurrency := flags.Int("concurrency", cfg.MaxConcurrency, "listing pages processed in parallel")
	catalogPath := flags.String("catalog", cfg.CatalogPath, "crawl catalog (yaml or json)")
	urlsPath := flags.String("urls", "", "file of listing URLs to process instead of discovering them")
	city := flags.String("city", "Almaty", "city tag for --urls targets")
	_ = flags.Parse(os.Args[1:])

	logger := utils.NewLoggerFor(cfg.AppEnv, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Krisha Scraping System starting ===")
	logger.Info("Config: concurrency: %d | fetcher: %s | retries: %d | interval: %dms | output: %s",
		*concurrency, cfg.Fetcher, cfg.MaxRetries, cfg.RequestIntervalMs, cfg.OutputDir)

	combos := make([]config.Combo, 0, len(*comboArgs))
	for _, arg := range *comboArgs {
		c, err := config.ParseCombo(arg)
		if err != nil {
			logger.Error("Bad --combo: %v", err)
			return 2
		}
		combos = append(combos, c)
	}

	index, err := geo.Load(cfg.GeoMapPath)
	if err != nil {
		var gle *models.GeoLoadError
		if errors.As(err, &gle) {
			logger.Error("District map unusable, nothing dispatched: %v", gle)
		} else {
			logger.Error("District map: %v", err)
		}
		return 1
	}
	logger.Info("Loaded %d districts from %s", len(index.Districts()), cfg.GeoMapPath)

	var catalog *config.Catalog
	headers := map[string]string{}
	if *urlsPath == "" {
		catalog, err = config.LoadCatalog(*catalogPath)
		if err != nil {
			logger.Error("Failed to load catalog: %v", err)
			return 1
		}
		headers = catalog.Headers
	}

	fetcher, closeFetcher := buildFetcher(cfg, headers, logger)
	defer closeFetcher()

	var targets []models.Target
	failed := make(map[config.Combo]bool)
	if *urlsPath != "" {
		combo := config.Combo{DealType: models.DealSale, PropertyType: models.PropertyApartment}
		if len(combos) > 0 {
			combo = combos[0]
		}
		targets, err = config.LoadTargetList(*urlsPath, combo, *city)
		if err != nil {
			logger.Error("Failed to read URL list: %v", err)
			return 1
		}
	} else {
		discoverer := krisha.NewDiscoverer(fetcher, cfg.MaxPages, logger)
		seen := utils.NewSet[string]()
		for _, entry := range catalog.Entries(combos) {
			if ctx.Err() != nil {
				break
			}
			found, err := discoverer.Discover(ctx, entry)
			if err != nil {
				logger.Error("Discovery failed for %s: %v", entry.URL, err)
				failed[entry.Combo()] = true
				continue
			}
			for _, tg := range found {
				if seen.Add(tg.URL) {
					targets = append(targets, tg)
				}
			}
		}
	}

	if len(targets) == 0 {
		logger.Error("No listing targets found. Exiting.")
		return 1
	}
	logger.Info("Processing %d listing pages", len(targets))

	writer := storage.NewParquetWriter(cfg.OutputDir, storage.WriterOptions{
		MaxRows: cfg.ChunkSize,
		MaxAge:  cfg.FlushInterval(),
	}, logger)

	p := pipeline.New(fetcher, krisha.NewExtractor(), index, services.NewValidator(), writer, logger)
	result := pipeline.NewRunner(p, cfg.RequestInterval(), logger).Run(ctx, targets, *concurrency)

	// buffered records are flushed even after an interrupt
	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancelFlush()

	exitCode := 0
	if err := writer.Flush(flushCtx); err != nil {
		logger.Error("Flush failed: %v", err)
		exitCode = 1
	}

	mirror(flushCtx, cfg, result.Emitted, logger)
	upload(flushCtx, cfg, writer.Files(), logger)

	if cfg.RejectionsCSV != "" {
		if err := writeRejections(cfg.RejectionsCSV, result.Rejected); err != nil {
			logger.Error("Rejection log failed: %v", err)
		} else {
			logger.Info("Rejections saved to %s", cfg.RejectionsCSV)
		}
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("Metrics textfile failed: %v", err)
		}
	}

	summary := services.NewSummaryService(logger)
	summary.Print(os.Stdout, summary.Generate(result.Emitted, result.Rejected))

	for _, c := range runCombos(targets) {
		if result.AllRejected(c.DealType, c.PropertyType) {
			logger.Error("Every %s listing was rejected", c)
			exitCode = 1
		}
	}
	if len(failed) > 0 {
		// a failed search means the partitions of that combo are incomplete
		for _, c := range undiscovered(failed, targets) {
			logger.Error("No %s listings discovered: every failing search page was skipped", c)
		}
		exitCode = 1
	}

	fmt.Printf("  Done. Parquet → %s (%d files)\n\n", cfg.OutputDir, len(writer.Files()))
	return exitCode
}

func buildFetcher(cfg *config.Config, headers map[string]string, logger *utils.Logger) (krisha.Fetcher, func()) {
	var base krisha.Fetcher
	closeFn := func() {}

	switch cfg.Fetcher {
	case "chrome":
		cf := krisha.NewChromeFetcher(cfg.ChromeBin, cfg.FetchTimeout(), 2*time.Second, logger)
		base = cf
		closeFn = func() { _ = cf.Close() }
	default:
		base = krisha.NewHTTPFetcher(cfg.FetchTimeout(), headers)
	}

	if cfg.MaxRetries > 1 {
		return krisha.NewRetryingFetcher(base, cfg.MaxRetries, time.Second, logger), closeFn
	}
	return base, closeFn
}

func mirror(ctx context.Context, cfg *config.Config, records []*models.ListingRecord, logger *utils.Logger) {
	if !cfg.PostgresEnabled || len(records) == 0 {
		return
	}
	pg, err := storage.NewPostgresWriter(ctx, cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		return
	}
	defer pg.Close()

	if err := pg.Write(ctx, records); err != nil {
		logger.Error("PostgreSQL write failed: %v", err)
		return
	}
	logger.Info("Mirrored %d listings to PostgreSQL (table: listings)", len(records))
}

func upload(ctx context.Context, cfg *config.Config, files []string, logger *utils.Logger) {
	if !cfg.UploadEnabled() || len(files) == 0 {
		return
	}
	up, err := storage.NewObjectUploader(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
		cfg.MinioBucket, cfg.MinioUseSSL, logger)
	if err != nil {
		logger.Error("Object store unavailable: %v", err)
		return
	}
	if err := up.EnsureBucket(ctx); err != nil {
		logger.Error("Object store bucket: %v", err)
		return
	}
	if err := up.Upload(ctx, cfg.OutputDir, files); err != nil {
		logger.Error("Upload incomplete: %v", err)
	}
}

func writeRejections(path string, reports []models.RejectionReport) error {
	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.WriteRejections(reports)
}

// undiscovered returns the failed combos that contributed no targets, in a
// stable order.
func undiscovered(failed map[config.Combo]bool, targets []models.Target) []config.Combo {
	found := make(map[config.Combo]bool)
	for _, c := range runCombos(targets) {
		found[c] = true
	}
	var out []config.Combo
	for c := range failed {
		if !found[c] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// runCombos lists the distinct deal/property pairs among targets.
func runCombos(targets []models.Target) []config.Combo {
	seen := make(map[config.Combo]bool)
	var out []config.Combo
	for _, t := range targets {
		c := config.Combo{DealType: t.DealType, PropertyType: t.PropertyType}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
