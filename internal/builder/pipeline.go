// Package builder drives the bounded-concurrency fetch -> parse -> insert
// pipeline that keeps the local filter and shard catalog up to date.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ipwned/config"
	"ipwned/internal/catalog"
	"ipwned/internal/fetch"
	"ipwned/internal/rsqf"
)

type shardOutcome struct {
	id           uint32
	hashes       [][config.HashSize]byte
	etag         string
	unchanged    bool
	bytes        int
	linesSkipped int
}

// Run executes one build: it opens (or creates) the catalog and filter,
// fetches every shard in [cfg.Start, cfg.End] that isn't fresh, inserts
// new hashes into the filter from a single dedicated goroutine, upserts
// the catalog after each shard's inserts complete, and on a clean finish
// commits the filter via write-temp-then-rename.
//
// If ctx is cancelled (e.g. on SIGINT) before the run completes, in-flight
// fetches are cancelled, the insertion queue drains, and the filter file
// on disk is left untouched — the rename is the only commit point.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) (*Report, error) {
	if cfg.Start > cfg.End || cfg.End > config.MaxShardID {
		return nil, fmt.Errorf("builder: invalid shard range [%d, %d]", cfg.Start, cfg.End)
	}

	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("builder: creating base path: %w", err)
	}

	cat, err := catalog.Open(cfg.statePath())
	if err != nil {
		return nil, fmt.Errorf("builder: opening catalog: %w", err)
	}
	defer cat.Close()

	filt, err := openOrCreateFilter(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("builder: opening filter: %w", err)
	}
	logger.Info("filter ready",
		zap.Uint64("capacity", filt.Capacity()),
		zap.Float64("fpr", filt.FPR()),
		zap.Uint64("entries", filt.Len()))

	maxAge, err := cfg.maxAgeDuration()
	if err != nil {
		return nil, fmt.Errorf("builder: parsing max_age: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)

	total := uint32(cfg.End-cfg.Start) + 1
	report := newReport(total)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan shardOutcome, cfg.Parallel)
	writerDone := make(chan error, 1)

	go func() {
		writerDone <- runInserter(runCtx, outcomes, filt, cat, report, logger, cancel)
	}()

	client := fetch.NewClient(cfg.BaseURL, cfg.MaxRetries, config.HTTPClientTimeout)
	g, gctx := errgroup.WithContext(runCtx)
	sem := semaphore.NewWeighted(int64(cfg.Parallel))

	for id := cfg.Start; ; id++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		rec, getErr := cat.Get(ctx, id)
		if getErr == nil && rec != nil && rec.UpdatedAt.After(cutoff) {
			sem.Release(1)
			report.recordSkippedFresh()
			if id == cfg.End {
				break
			}
			continue
		}
		etag := ""
		if rec != nil {
			etag = rec.ETag
		}

		g.Go(func() error {
			defer sem.Release(1)
			return fetchOne(gctx, client, id, etag, outcomes, report, logger)
		})

		if id == cfg.End {
			break
		}
	}

	fetchErr := g.Wait()
	close(outcomes)
	writerErr := <-writerDone

	if writerErr != nil {
		return report, writerErr
	}
	if ctx.Err() != nil {
		logger.Warn("run cancelled; filter not committed")
		return report, ctx.Err()
	}
	if fetchErr != nil {
		logger.Error("fetch group returned a non-shard-fatal error, aborting run", zap.Error(fetchErr))
		return report, fmt.Errorf("builder: %w", fetchErr)
	}

	if err := commitFilter(filt, cfg.filterPath()); err != nil {
		return report, fmt.Errorf("builder: committing filter: %w", err)
	}

	logger.Info("run complete",
		zap.Uint32("total", report.Total),
		zap.Uint32("skipped", report.Skipped),
		zap.Uint32("downloaded", report.Downloaded),
		zap.Uint32("not_modified", report.NotModified),
		zap.Uint32("failed", report.Failed),
		zap.Uint32("hashes_new", report.HashesNew),
		zap.Uint64("filter_entries", filt.Len()))

	return report, nil
}

func fetchOne(ctx context.Context, client *fetch.Client, id uint32, etag string, outcomes chan<- shardOutcome, report *Report, logger *zap.Logger) error {
	res, err := client.Fetch(ctx, id, etag)
	if err != nil {
		if errors.Is(err, fetch.ErrShardFatal) {
			report.recordFailed(id, err)
			logger.Warn("shard fetch failed", zap.Uint32("id", id), zap.Error(err))
			return nil
		}
		return err
	}

	if res.Skipped > 0 {
		logger.Warn("shard had malformed lines", zap.Uint32("id", id), zap.Int("skipped_lines", res.Skipped))
	}

	oc := shardOutcome{
		id:           id,
		hashes:       res.Hashes,
		etag:         res.ETag,
		unchanged:    res.Unchanged,
		bytes:        res.Bytes,
		linesSkipped: res.Skipped,
	}
	select {
	case outcomes <- oc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runInserter is the filter's single writer: it is the only goroutine that
// ever calls filt.Insert, satisfying the single-writer invariant without
// needing a lock around the filter itself (the filter's own RWMutex still
// protects concurrent readers in the query service, a separate process).
func runInserter(ctx context.Context, outcomes <-chan shardOutcome, filt *rsqf.Filter, cat *catalog.Catalog, report *Report, logger *zap.Logger, abort context.CancelFunc) error {
	var fatalErr error

	for oc := range outcomes {
		if fatalErr != nil {
			continue // drain without processing once aborting
		}

		if oc.unchanged {
			if err := cat.Upsert(ctx, oc.id, oc.etag, time.Now()); err != nil {
				logger.Error("catalog upsert failed", zap.Uint32("id", oc.id), zap.Error(err))
				fatalErr = fmt.Errorf("builder: catalog upsert for shard %05X: %w", oc.id, err)
				abort()
				continue
			}
			report.recordNotModified()
			continue
		}

		before := filt.Len()
		var insertErr error
		for _, h := range oc.hashes {
			if err := filt.Insert(h); err != nil {
				insertErr = err
				break
			}
		}
		added := filt.Len() - before

		if insertErr != nil {
			logger.Error("filter insert failed, aborting run", zap.Uint32("id", oc.id), zap.Error(insertErr))
			fatalErr = insertErr
			abort()
			continue
		}

		// Catalog upsert happens-after every hash in this shard has been
		// inserted, so a crash never leaves the catalog claiming a shard
		// is current while its entries were lost.
		if err := cat.Upsert(ctx, oc.id, oc.etag, time.Now()); err != nil {
			logger.Error("catalog upsert failed", zap.Uint32("id", oc.id), zap.Error(err))
			fatalErr = fmt.Errorf("builder: catalog upsert for shard %05X: %w", oc.id, err)
			abort()
			continue
		}

		report.recordDownloaded(oc.bytes, len(oc.hashes), int(added), oc.linesSkipped)
	}

	return fatalErr
}

func openOrCreateFilter(cfg Config, logger *zap.Logger) (*rsqf.Filter, error) {
	f, err := os.Open(cfg.filterPath())
	if errors.Is(err, os.ErrNotExist) {
		return rsqf.New(cfg.MaxCount, cfg.MaxErrorRate)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	filt, err := rsqf.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("existing filter is corrupt: %w", err)
	}

	if filt.Capacity() != cfg.MaxCount || filt.FPR() != cfg.MaxErrorRate {
		logger.Warn("existing filter parameters differ from configured max_count/max_error_rate; on-disk parameters win",
			zap.Uint64("on_disk_capacity", filt.Capacity()),
			zap.Float64("on_disk_fpr", filt.FPR()),
			zap.Uint64("requested_capacity", cfg.MaxCount),
			zap.Float64("requested_fpr", cfg.MaxErrorRate))
	}

	return filt, nil
}

func commitFilter(filt *rsqf.Filter, path string) error {
	tmp := path + ".new"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := filt.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
