// Package consumer turns a broker.Source of raw event payloads into
// broker.Sink writes of sigma match results through a retrying,
// backpressured, offset-aware worker pool.
package consumer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/markuskont/go-dispatch"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	sigma "github.com/markuskont/sigmastream"
	"github.com/markuskont/sigmastream/broker"
)

// json is jsoniter configured for drop-in encoding/json compatibility,
// faster on the hot decode/encode path every event passes through.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config parameterizes a Pipeline.
type Config struct {
	Source broker.Source
	Sink   broker.Sink
	// DLQ receives payloads the pipeline gives up on, each wrapped with a
	// "reason" field. Optional; nil disables dead-lettering (drop instead).
	DLQ   broker.Sink
	Topic string

	Ruleset *sigma.Ruleset

	Workers     int
	EvalTimeout time.Duration

	Retry RetryPolicy

	Capacity        int
	CommitInterval  time.Duration
	CommitThreshold int

	// MaxEventsPerSecond caps ingress throughput, independent of the
	// backpressure watermark, for callers that want a hard ceiling on load
	// sent downstream (e.g. a rate-limited sink API). Zero disables the cap.
	MaxEventsPerSecond float64

	ShutdownGrace time.Duration

	Metrics *EvalMetrics
	Logger  logrus.FieldLogger
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = 30 * time.Second
	}
	d := DefaultRetryPolicy()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.MaxRetries
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 5 * time.Second
	}
	if c.CommitThreshold <= 0 {
		c.CommitThreshold = 1000
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Pipeline wires a broker.Source through a worker pool evaluating a
// sigma.Ruleset against every decoded event, to a broker.Sink, with
// backpressure, retries, a dead letter path, and offset commits that only
// ever advance through a contiguous completed prefix.
type Pipeline struct {
	cfg     Config
	bp      *BackpressureController
	om      *OffsetManager
	limiter *rate.Limiter

	jobs chan job
	wg   sync.WaitGroup

	log logrus.FieldLogger
}

type job struct {
	msg   broker.Message
	event sigma.DynamicMap
}

// NewPipeline builds a Pipeline from cfg, applying defaults for any
// unset tuning parameter.
func NewPipeline(cfg Config) *Pipeline {
	cfg.setDefaults()
	p := &Pipeline{
		cfg:  cfg,
		bp:   NewBackpressureController(cfg.Capacity, cfg.Metrics),
		jobs: make(chan job, cfg.Workers),
		log:  cfg.Logger,
	}
	if cfg.MaxEventsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSecond), int(cfg.MaxEventsPerSecond))
	}
	return p
}

// Run drives the pipeline until ctx is cancelled, then performs a graceful
// shutdown within cfg.ShutdownGrace before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.om = NewOffsetManager(p.cfg.Source, p.cfg.CommitInterval, p.cfg.CommitThreshold, func(err error) {
		p.log.WithError(err).Error("offset commit failed")
	})
	var omWg sync.WaitGroup
	omWg.Add(1)
	go func() {
		defer omWg.Done()
		p.om.Run(runCtx)
	}()

	ingressDone := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(ingressDone)
		p.ingress(runCtx)
	}()

	go p.watchRebalance(runCtx)

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- dispatch.Run(dispatch.Config{
			Async:   false,
			Workers: p.cfg.Workers,
			FeederFunc: func(tasks chan<- dispatch.Task, stop <-chan struct{}) {
				var wg sync.WaitGroup
				for i := 0; i < p.cfg.Workers; i++ {
					wg.Add(1)
					id := i
					tasks <- func(_, _ int, _ context.Context) error {
						defer wg.Done()
						p.worker(runCtx, id)
						return nil
					}
				}
				wg.Wait()
			},
			ErrFunc: func(err error) bool {
				p.log.WithError(err).Error("worker error")
				return true
			},
		})
	}()

	select {
	case <-ctx.Done():
	case <-ingressDone:
		p.log.Info("source exhausted, draining in-flight work")
	}
	return p.shutdown(cancel, workersDone, &omWg)
}

// ingress pulls messages from Source, decodes them, and either routes a
// decode failure straight to the DLQ or hands the job to the worker pool.
// Backpressure pauses fetching once the high watermark is crossed.
func (p *Pipeline) ingress(ctx context.Context) {
	var fetchFailures int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.bp.Paused() {
			time.Sleep(10 * time.Millisecond)
			if p.bp.Inflight() <= int64(float64(p.cfg.Capacity)*0.6) {
				p.bp.SetPaused(false)
				p.cfg.Source.Resume(0)
			}
			continue
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		msg, err := p.cfg.Source.Fetch(ctx)
		if err != nil {
			if err == ctx.Err() {
				return
			}
			if err == broker.ErrNoMessage {
				fetchFailures = 0
				continue
			}
			if err == io.EOF {
				p.log.Info("source exhausted")
				return
			}
			p.cfg.Metrics.IncError("fetch")
			fetchFailures++
			if p.cfg.Retry.Exhausted(fetchFailures - 1) {
				p.log.WithError(ErrBrokerFatal{Err: err}).Error("source fetch repeatedly failed, stopping ingestion")
				return
			}
			p.log.WithError(ErrBrokerTransient{Err: err}).Warn("fetch failed, retrying")
			select {
			case <-time.After(p.cfg.Retry.NextBackoff(fetchFailures - 1)):
			case <-ctx.Done():
				return
			}
			continue
		}
		fetchFailures = 0

		var event sigma.DynamicMap
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			p.cfg.Metrics.IncError("decode")
			p.deadLetter(ctx, msg.Payload, msg.Offset, "decode", ErrEventDecode{Err: err})
			if p.om.Complete(msg.Offset) {
				p.om.Flush(ctx)
			}
			continue
		}

		if p.bp.Acquire() {
			p.bp.SetPaused(true)
			p.cfg.Source.Pause(0)
		}

		select {
		case p.jobs <- job{msg: msg, event: event}:
		case <-ctx.Done():
			return
		}
	}
}

// worker evaluates jobs against the ruleset under a soft per-event deadline,
// writes matches to the sink with retry, and reports completion to the
// offset manager regardless of outcome (a permanently failed event still
// advances the cursor once it has exhausted the DLQ path).
func (p *Pipeline) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, j)
			p.bp.Release()
			if p.om.Complete(j.msg.Offset) {
				p.om.Flush(ctx)
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, j job) {
	evalCtx, cancel := context.WithTimeout(ctx, p.cfg.EvalTimeout)
	defer cancel()

	done := make(chan sigma.Results, 1)
	start := time.Now()
	go func() {
		results, _ := p.cfg.Ruleset.EvalAll(j.event)
		done <- results
	}()

	select {
	case results := <-done:
		p.cfg.Metrics.ObserveEval(time.Since(start).Seconds())
		if len(results) == 0 {
			return
		}
		p.writeResults(ctx, j.msg.Offset, results)
	case <-evalCtx.Done():
		p.cfg.Metrics.IncError("timeout")
		p.deadLetter(ctx, j.msg.Payload, j.msg.Offset, "timeout", ErrEvaluationTimeout{Deadline: p.cfg.EvalTimeout.String()})
	}
}

// offsetOf renders an opaque broker.Offset as the canonical event_offset /
// dlq offset object, since the broker interface itself carries no JSON tags.
func offsetOf(o broker.Offset) map[string]interface{} {
	return map[string]interface{}{
		"partition": o.Partition(),
		"position":  o.Position(),
	}
}

// writeResults emits one canonical match object per rule result onto the
// sink, each carrying its own event_offset so a downstream reader can
// correlate a result back to the source message without decoding the
// original event.
func (p *Pipeline) writeResults(ctx context.Context, offset broker.Offset, results sigma.Results) {
	for _, res := range results {
		out := map[string]interface{}{
			"rule_id":      res.ID,
			"rule_title":   res.Title,
			"tags":         res.Tags,
			"level":        res.Level,
			"matched":      res.Matched,
			"applicable":   res.Applicable,
			"event_offset": offsetOf(offset),
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			p.log.WithError(err).Error("result encode failed")
			continue
		}
		p.writeResult(ctx, offset, encoded)
	}
}

func (p *Pipeline) writeResult(ctx context.Context, offset broker.Offset, encoded []byte) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := p.cfg.Sink.Write(ctx, p.cfg.Topic, encoded); err != nil {
			lastErr = err
			if p.cfg.Retry.Exhausted(attempt) {
				break
			}
			select {
			case <-time.After(p.cfg.Retry.NextBackoff(attempt)):
				continue
			case <-ctx.Done():
				return
			}
		}
		return
	}
	p.cfg.Metrics.IncError("sink")
	p.deadLetter(ctx, encoded, offset, "sink", ErrSinkWrite{Err: lastErr})
}

// deadLetter wraps payload in the canonical DLQ envelope and writes it to
// cfg.DLQ, if configured. offset may be nil, in which case the envelope
// carries no offset field.
func (p *Pipeline) deadLetter(ctx context.Context, payload []byte, offset broker.Offset, reason string, cause error) {
	p.log.WithFields(logrus.Fields{"reason": reason}).WithError(cause).Warn("dead lettering event")
	if p.cfg.DLQ == nil {
		return
	}
	wrapped := map[string]interface{}{
		"id":        uuid.New().String(),
		"reason":    reason,
		"error":     cause.Error(),
		"payload":   base64.StdEncoding.EncodeToString(payload),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if offset != nil {
		wrapped["offset"] = offsetOf(offset)
	}
	encoded, err := json.Marshal(wrapped)
	if err != nil {
		p.log.WithError(err).Error("dlq encode failed")
		return
	}
	if err := p.cfg.DLQ.Write(ctx, fmt.Sprintf("%s.dlq", p.cfg.Topic), encoded); err != nil {
		p.log.WithError(err).Error("dlq write failed")
	}
}
