package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/ruhrdata/regiolake/pkg/extract"
	"github.com/ruhrdata/regiolake/pkg/load"
	"github.com/ruhrdata/regiolake/pkg/registry"
	"github.com/ruhrdata/regiolake/pkg/transform"
	"github.com/ruhrdata/regiolake/pkg/verify"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

var ErrUnknownTable = errors.New("no indicators registered for table")

const defaultFetchConcurrency = 1

// Extractor downloads one year of a source table.
type Extractor interface {
	Extract(ctx context.Context, tableID string, year int) (*extract.RawTable, error)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	DB        warehouse.DB
	Extractor Extractor
	Registry  *registry.Registry
	Loader    *load.Loader
	Verifier  *verify.Verifier

	// FetchConcurrency bounds the years downloaded ahead of the loader.
	FetchConcurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Extractor == nil {
		return errors.New("extractor is required")
	}
	if cfg.Registry == nil {
		return errors.New("registry is required")
	}
	if cfg.Loader == nil {
		return errors.New("loader is required")
	}
	if cfg.Verifier == nil {
		return errors.New("verifier is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	return nil
}

// IndicatorSummary aggregates the runs of one indicator.
type IndicatorSummary struct {
	Code        string
	Transformed int
	Dropped     int
	Duplicates  int
	Skipped     int
	Deleted     int
	Loaded      int
	// Report is the verification after the last loaded year.
	Report *verify.Report
}

type Summary struct {
	TableID    string
	Years      []int
	Extracted  int
	Indicators []*IndicatorSummary
}

// Failed lists the indicators whose last verification failed.
func (s *Summary) Failed() []string {
	var out []string
	for _, ind := range s.Indicators {
		if ind.Report != nil && ind.Report.Verdict == verify.VerdictFail {
			out = append(out, ind.Code)
		}
	}
	return out
}

// Pipeline runs extract, transform, load and verify for source tables.
type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Pipeline{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Sync validates the registry against the warehouse and returns indicator ids.
func (p *Pipeline) Sync(ctx context.Context) (map[string]int64, error) {
	conn, err := p.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()
	return p.cfg.Registry.Sync(ctx, conn)
}

// Run processes the years from..to of a table. Years are downloaded in
// parallel but transformed and loaded one at a time in ascending order. An
// extraction or load failure aborts the run; rows already committed for
// earlier years stay. A failing verification does not abort.
func (p *Pipeline) Run(ctx context.Context, tableID string, from, to int) (*Summary, error) {
	if from > to {
		return nil, fmt.Errorf("invalid year range %d-%d", from, to)
	}
	indicators := p.cfg.Registry.ForTable(tableID)
	if len(indicators) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableID)
	}
	ids, err := p.Sync(ctx)
	if err != nil {
		return nil, err
	}

	start := p.cfg.Clock.Now()
	summary := &Summary{TableID: tableID}
	byCode := make(map[string]*IndicatorSummary, len(indicators))
	for _, ind := range indicators {
		s := &IndicatorSummary{Code: ind.Code}
		byCode[ind.Code] = s
		summary.Indicators = append(summary.Indicators, s)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	pool := pond.NewResultPool[*extract.RawTable](p.cfg.FetchConcurrency)
	defer func() {
		cancel()
		pool.StopAndWait()
	}()
	fetches := make([]pond.Result[*extract.RawTable], 0, to-from+1)
	for year := from; year <= to; year++ {
		fetches = append(fetches, pool.SubmitErr(func() (*extract.RawTable, error) {
			return p.cfg.Extractor.Extract(fetchCtx, tableID, year)
		}))
	}

	p.log.Info("pipeline: run started", "table", tableID, "from", from, "to", to, "indicators", len(indicators))
	for i, fetch := range fetches {
		year := from + i
		raw, err := fetch.Wait()
		if err == nil {
			err = p.runYear(ctx, raw, indicators, ids, byCode, summary)
		} else {
			p.recordExtractionFailure(ctx, tableID, year, err)
		}
		if err != nil {
			MetricRunsTotal.WithLabelValues(tableID, "failed").Inc()
			p.log.Error("pipeline: run aborted", "table", tableID, "year", year, "error", err)
			return summary, err
		}
		summary.Years = append(summary.Years, year)
	}

	MetricRunsTotal.WithLabelValues(tableID, "succeeded").Inc()
	MetricRunDuration.WithLabelValues(tableID).Observe(p.cfg.Clock.Since(start).Seconds())
	p.log.Info("pipeline: run finished", "table", tableID, "years", len(summary.Years), "failed_verifications", summary.Failed())
	return summary, nil
}

func (p *Pipeline) recordExtractionFailure(ctx context.Context, tableID string, year int, cause error) {
	run, err := p.cfg.Loader.StartRun(ctx, tableID, "", year)
	if err == nil {
		err = p.cfg.Loader.FinishRun(ctx, run, cause)
	}
	if err != nil {
		p.log.Error("pipeline: failed to record run", "table", tableID, "year", year, "error", err)
	}
}

func (p *Pipeline) runYear(ctx context.Context, raw *extract.RawTable, indicators []registry.Indicator, ids map[string]int64, byCode map[string]*IndicatorSummary, summary *Summary) error {
	summary.Extracted += len(raw.Rows)
	for _, ind := range indicators {
		if err := p.runIndicator(ctx, raw, ind, ids[ind.Code], byCode[ind.Code]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runIndicator(ctx context.Context, raw *extract.RawTable, ind registry.Indicator, indicatorID int64, s *IndicatorSummary) (err error) {
	run, err := p.cfg.Loader.StartRun(ctx, raw.TableID, ind.Code, raw.Year)
	if err != nil {
		return err
	}
	run.RowsExtracted = len(raw.Rows)
	defer func() {
		if ferr := p.cfg.Loader.FinishRun(ctx, run, err); ferr != nil {
			p.log.Error("pipeline: failed to record run", "run_id", run.ID, "error", ferr)
			if err == nil {
				err = ferr
			}
		}
	}()

	res, err := transform.Transform(raw, ind.Spec())
	if err != nil {
		return fmt.Errorf("transform %s year %d: %w", ind.Code, raw.Year, err)
	}
	run.RowsTransformed = len(res.Rows)
	run.RowsDropped = len(res.Dropped)
	s.Transformed += len(res.Rows)
	s.Dropped += len(res.Dropped)
	MetricRowsDropped.WithLabelValues(ind.Code).Add(float64(len(res.Dropped)))
	for _, d := range res.Dropped {
		p.log.Debug("pipeline: dropped row", "indicator", ind.Code, "year", raw.Year, "reason", d.Error())
	}
	if len(res.Dropped) > 0 {
		p.log.Warn("pipeline: dropped invalid rows", "indicator", ind.Code, "year", raw.Year, "dropped", len(res.Dropped), "kept", len(res.Rows))
	}

	if len(res.Rows) == 0 {
		p.log.Warn("pipeline: no rows for indicator", "indicator", ind.Code, "year", raw.Year)
		return nil
	}

	loaded, err := p.cfg.Loader.Load(ctx, load.Batch{
		IndicatorID:   indicatorID,
		IndicatorCode: ind.Code,
		Rows:          res.Rows,
		ExtractedAt:   raw.ExtractedAt,
	})
	if err != nil {
		return err
	}
	run.RowsDuplicate = loaded.Duplicates
	run.RowsSkipped = loaded.Skipped
	run.RowsDeleted = loaded.Deleted
	run.RowsLoaded = loaded.Loaded
	s.Duplicates += loaded.Duplicates
	s.Skipped += loaded.Skipped
	s.Deleted += loaded.Deleted
	s.Loaded += loaded.Loaded

	report, err := p.cfg.Verifier.Verify(ctx, indicatorID)
	if err != nil {
		return fmt.Errorf("verify %s: %w", ind.Code, err)
	}
	run.Verdict = string(report.Verdict)
	s.Report = report
	if ferr := report.Err(); ferr != nil {
		p.log.Warn("pipeline: verification failed", "indicator", ind.Code, "year", raw.Year, "error", ferr)
	}
	return nil
}
