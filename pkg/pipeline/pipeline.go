/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package pipeline runs a scan: records flow from a log source through classifier workers into
// a single aggregator, which flushes reports to the outputs.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/loganalysis"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logparser"
	"github.com/traas-stack/slowquery-agent/pkg/logsource"
	"github.com/traas-stack/slowquery-agent/pkg/metrics"
	"github.com/traas-stack/slowquery-agent/pkg/model"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
	"github.com/traas-stack/slowquery-agent/pkg/slowquery"
	"github.com/traas-stack/slowquery-agent/pkg/util"
	"go.uber.org/zap"
)

const (
	recordBufferPerWorker = 64
	finalFlushTimeout     = 30 * time.Second
)

type (
	Pipeline struct {
		area       string
		cfg        appconfig.ScanConfig
		source     logsource.Source
		classifier *slowquery.Classifier
		output     output.Output
		now        func() time.Time
	}

	event struct {
		record  *logparser.Record
		result  *slowquery.Result
		skipped bool
		// normalized is the catalog normalized message of an unclassified record
		normalized string
	}

	// batch is owned by the aggregator goroutine.
	batch struct {
		start    time.Time
		patterns map[string]*model.PatternStat
		analyzer *loganalysis.Analyzer
		counts   map[string]int64
	}
)

func New(area string, cfg appconfig.ScanConfig, source logsource.Source, classifier *slowquery.Classifier, out output.Output) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pipeline{
		area:       area,
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		output:     out,
		now:        time.Now,
	}
}

// PatternKey identifies a query shape. Records with the same key are aggregated together.
func PatternKey(r *slowquery.Result) string {
	h := xxhash.New()
	for _, s := range []string{r.Database, r.Operation, r.Target, r.NormalizedQuery} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Run scans until the source is exhausted or ctx is done. The last report is marked Final and
// is written even when ctx is already done.
func (p *Pipeline) Run(ctx context.Context) error {
	scanID := uuid.New().String()
	logger.Infoz("[pipeline] scan start", zap.String("scanId", scanID), zap.String("source", p.source.Name()), zap.Int("workers", p.cfg.Workers))

	records := make(chan *logparser.Record, p.cfg.Workers*recordBufferPerWorker)
	events := make(chan event, p.cfg.Workers*recordBufferPerWorker)

	var sourceErr error
	sourceDone := make(chan struct{})
	go func() {
		defer close(sourceDone)
		defer close(records)
		util.WithRecover(func() {
			sourceErr = p.source.Run(ctx, records)
		}, func(r interface{}) {
			sourceErr = errors.Errorf("source panic: %v", r)
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		util.GoWithSyncGroup(func() {
			p.work(records, events)
		}, &wg)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	seq := p.aggregate(ctx, scanID, events)
	<-sourceDone

	logger.Infoz("[pipeline] scan done", zap.String("scanId", scanID), zap.Int("reports", seq), zap.Error(sourceErr))
	return sourceErr
}

func (p *Pipeline) work(records <-chan *logparser.Record, events chan<- event) {
	for r := range records {
		e := event{record: r}
		if r.ExecMillis < p.cfg.SlowThresholdMs {
			e.skipped = true
		} else {
			util.WithRecover(func() {
				e.result = p.classifier.Classify(slowquery.Input{
					CommandType: r.CommandType,
					Database:    r.Database,
					Message:     r.Message,
				})
			})
			outcome := slowquery.OutcomeOf(e.result)
			metrics.Messages.WithLabelValues(string(outcome)).Inc()
			metrics.ExecMillis.Observe(float64(r.ExecMillis))
			switch outcome {
			case slowquery.OutcomeMatched:
				metrics.Matched.WithLabelValues(e.result.Operation).Inc()
			case slowquery.OutcomeUnclassified:
				e.normalized = p.classifier.Catalog().Normalize(r.Message)
			}
		}
		events <- e
	}
}

// aggregate consumes events until the channel is closed and returns the number of reports written.
func (p *Pipeline) aggregate(ctx context.Context, scanID string, events <-chan event) int {
	flushCh := make(chan struct{}, 1)
	requestFlush := func() {
		select {
		case flushCh <- struct{}{}:
		default:
		}
	}
	var debounced func(func())
	if p.cfg.QuietPeriod > 0 {
		debounced = debounce.New(p.cfg.QuietPeriod.Std())
	}
	var tickC <-chan time.Time
	if p.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(p.cfg.FlushInterval.Std())
		defer ticker.Stop()
		tickC = ticker.C
	}

	seq := 0
	b := p.newBatch()
	flush := func(ctx context.Context, final bool) {
		if b.empty() && !final {
			return
		}
		seq++
		report := b.report(p.now())
		report.ScanID = scanID
		report.Sequence = seq
		report.Area = p.area
		report.Host = util.GetHostname()
		report.Source = p.source.Name()
		report.Final = final
		metrics.Reports.Inc()
		if err := p.output.Write(ctx, report); err != nil {
			logger.Errorz("[pipeline] write report error", zap.String("scanId", scanID), zap.Int("seq", seq), zap.Error(err))
		}
		b = p.newBatch()
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				fctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				flush(fctx, true)
				cancel()
				return seq
			}
			b.add(e, p.now)
			if debounced != nil {
				debounced(requestFlush)
			}
		case <-flushCh:
			flush(ctx, false)
		case <-tickC:
			flush(ctx, false)
		}
	}
}

func (p *Pipeline) newBatch() *batch {
	return &batch{
		start:    p.now(),
		patterns: make(map[string]*model.PatternStat),
		analyzer: loganalysis.NewAnalyzer(0, p.cfg.MaxUnclassifiedPatterns),
		counts:   make(map[string]int64),
	}
}

func (b *batch) empty() bool {
	return len(b.counts) == 0
}

func (b *batch) add(e event, now func() time.Time) {
	if e.skipped {
		b.counts[model.CountSkipped]++
		return
	}
	outcome := slowquery.OutcomeOf(e.result)
	b.counts[string(outcome)]++

	switch outcome {
	case slowquery.OutcomeMatched:
		key := PatternKey(e.result)
		ps, ok := b.patterns[key]
		if !ok {
			ps = &model.PatternStat{
				Key:             key,
				CommandType:     e.result.CommandType,
				Database:        e.result.Database,
				Operation:       e.result.Operation,
				Target:          e.result.Target,
				NormalizedQuery: e.result.NormalizedQuery,
			}
			b.patterns[key] = ps
		}
		at := e.record.Time
		if at.IsZero() {
			at = now()
		}
		ps.Add(e.record.Message, e.record.ExecMillis, at)
	case slowquery.OutcomeUnclassified:
		b.analyzer.Analyze(e.normalized)
	}
}

func (b *batch) report(end time.Time) *model.Report {
	r := &model.Report{
		Start:    b.start,
		End:      end,
		Patterns: make([]*model.PatternStat, 0, len(b.patterns)),
		Counts:   b.counts,
	}
	for _, ps := range b.patterns {
		r.Patterns = append(r.Patterns, ps)
	}
	model.SortPatterns(r.Patterns)
	for _, al := range b.analyzer.AnalyzedLogs() {
		us := &model.UnclassifiedStat{Sample: al.Sample, Count: al.Count}
		for _, ns := range al.Namespaces {
			us.Namespaces = append(us.Namespaces, ns.Namespace)
		}
		r.Unclassified = append(r.Unclassified, us)
	}
	if dropped := b.analyzer.Dropped(); dropped > 0 {
		logger.Warnz("[pipeline] unclassified patterns dropped", zap.Int("dropped", dropped))
	}
	return r
}
