// Command stock-ingest loads serialized units from gzip CSV files
// ("serial,barcode,store_id" per line) into the unit ledger.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/scanbill/internal/domain/unit"
	"github.com/xenking/scanbill/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	batchSize     = 5000
	progressEvery = 1_000_000
)

func main() {
	var (
		dataDir     string
		databaseURL string
		capacity    uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz stock files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "capacity", 10_000_000, "expected number of serials, sizes the bloom filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, capacity); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, capacity uint) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list stock files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", dataDir)
	}

	slog.Info("pass 1: scanning for repeated serials", slog.Int("files", len(files)))
	candidates, err := findRepeated(ctx, files, capacity)
	if err != nil {
		return errors.Wrap(err, "find repeated serials")
	}

	conflicts := map[string]struct{}{}
	if len(candidates) > 0 {
		slog.Info("pass 2: checking repeated serials", slog.Int("candidates", len(candidates)))
		if conflicts, err = findConflicts(ctx, files, candidates); err != nil {
			return errors.Wrap(err, "find conflicts")
		}
		for serial := range conflicts {
			slog.Warn("serial listed with different barcode or store, skipped", slog.String("serial", serial))
		}
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	inserted, err := load(ctx, postgres.NewLedgerRepository(pool), files, conflicts)
	if err != nil {
		return errors.Wrap(err, "load units")
	}
	slog.Info("units stocked", slog.Int64("inserted", inserted))
	return nil
}

// findRepeated returns serials seen more than once across files. The bloom
// filter keeps memory bounded; its false positives are resolved by
// findConflicts.
func findRepeated(ctx context.Context, files []string, capacity uint) (map[string]struct{}, error) {
	var (
		mu         sync.Mutex
		filter     = bloom.NewWithEstimates(capacity, bloomFPR)
		candidates = map[string]struct{}{}
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			var count uint64
			return streamUnits(ctx, path, func(u unit.Unit) error {
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("rows", count))
				}

				mu.Lock()
				defer mu.Unlock()
				if filter.TestAndAddString(u.SerialNumber) {
					candidates[u.SerialNumber] = struct{}{}
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// findConflicts returns the candidate serials that appear with more than one
// (barcode, store) pair.
func findConflicts(ctx context.Context, files []string, candidates map[string]struct{}) (map[string]struct{}, error) {
	type origin struct{ barcode, storeID string }

	first := map[string]origin{}
	conflicts := map[string]struct{}{}
	for _, path := range files {
		err := streamUnits(ctx, path, func(u unit.Unit) error {
			if _, ok := candidates[u.SerialNumber]; !ok {
				return nil
			}
			o := origin{u.Barcode, u.StoreID}
			if prev, seen := first[u.SerialNumber]; !seen {
				first[u.SerialNumber] = o
			} else if prev != o {
				conflicts[u.SerialNumber] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

// load stocks every unit of files except conflicting serials. Files are
// loaded concurrently; existing serials are left untouched.
func load(ctx context.Context, ledger unit.Ledger, files []string, skip map[string]struct{}) (int64, error) {
	var (
		mu    sync.Mutex
		total int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range files {
		g.Go(func() error {
			batch := make([]unit.Unit, 0, batchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				n, err := ledger.Stock(ctx, batch)
				if err != nil {
					return errors.Wrapf(err, "stock batch from %s", path)
				}
				mu.Lock()
				total += n
				mu.Unlock()
				batch = batch[:0]
				return nil
			}

			err := streamUnits(ctx, path, func(u unit.Unit) error {
				if _, ok := skip[u.SerialNumber]; ok {
					return nil
				}
				batch = append(batch, u)
				if len(batch) == batchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
			slog.Info("file loaded", slog.String("file", path))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// streamUnits opens a gzip CSV file and calls fn for each valid row. The
// header row and malformed rows are skipped.
func streamUnits(ctx context.Context, path string, fn func(u unit.Unit) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var skipped int
	scanner := bufio.NewScanner(gz)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, ok := parseRow(scanner.Text())
		if !ok {
			if line > 1 {
				skipped++
			}
			continue
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	if skipped > 0 {
		slog.Warn("malformed rows skipped", slog.String("file", path), slog.Int("rows", skipped))
	}
	return nil
}

// parseRow parses "serial,barcode,store_id". It rejects the header and rows
// with empty or missing fields.
func parseRow(line string) (unit.Unit, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return unit.Unit{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return unit.Unit{}, false
		}
	}
	if strings.EqualFold(fields[0], "serial") {
		return unit.Unit{}, false
	}
	return unit.Unit{
		SerialNumber: fields[0],
		Barcode:      fields[1],
		StoreID:      fields[2],
		Status:       unit.StatusAvailable,
	}, true
}
