// Package orchestrator runs a generation request across an ordered chain of
// models, retrying transient failures with exponential backoff and falling
// back to the next model on fatal ones.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/llm"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/repair"
)

// ErrEmptyChain is returned when a request names no models.
var ErrEmptyChain = errors.New("empty model chain")

// ExhaustedError means every model in the chain failed.
type ExhaustedError struct {
	Models   []string
	Attempts []models.Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all models failed (%s): %v", strings.Join(e.Models, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Providers resolves a provider type to a client. *llm.Registry implements it.
type Providers interface {
	Get(typ models.ProviderType) (llm.Provider, error)
}

// CacheInvalidator drops a cache handle the backend no longer knows.
type CacheInvalidator interface {
	Invalidate(key string)
}

// Request is one generation across a chain.
type Request struct {
	SystemPrompt  string
	StaticPrompt  string
	DynamicPrompt string
	Chain         []models.ModelConfig
	// Cache is only sent on the first attempt of the first model.
	Cache          *models.CacheHandle
	ResponseSchema *llm.Schema
	Shape          repair.Schema
}

// Result is a validated response and how it was obtained.
type Result struct {
	JSON        []byte
	ModelUsed   string
	Provider    models.ProviderType
	Usage       models.Usage
	Attempts    []models.Attempt
	Fallback    bool
	RepairStage repair.Stage
	Latency     time.Duration
}

// Orchestrator executes requests. It is safe for concurrent use; attempts
// within one request are sequential.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	providers Providers
	repairer  *repair.Repairer
	stats     Stats
	cache     CacheInvalidator
	log       *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator. cache may be nil.
func New(cfg config.OrchestratorConfig, providers Providers, repairer *repair.Repairer, stats Stats, cache CacheInvalidator, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxRetriesPerModel < 1 {
		cfg.MaxRetriesPerModel = 1
	}
	if repairer == nil {
		repairer = repair.New(log)
	}
	if stats == nil {
		stats = &AtomicStats{}
	}
	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		repairer:  repairer,
		stats:     stats,
		cache:     cache,
		log:       log.Named("orchestrator"),
		sleep:     sleepContext,
	}
}

// Stats returns the counters this orchestrator records into.
func (o *Orchestrator) Stats() Stats { return o.stats }

// Generate walks the chain until a model returns a response that repairs
// into a valid document.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Chain) == 0 {
		return nil, ErrEmptyChain
	}

	start := time.Now()
	res := &Result{}
	names := make([]string, 0, len(req.Chain))
	var last error

	for i, mc := range req.Chain {
		names = append(names, mc.Model)
		log := o.log.With(zap.String("model", mc.Model), zap.String("provider", string(mc.Provider)))

		provider, err := o.providers.Get(mc.Provider)
		if err != nil {
			log.Warn("skipping model", zap.Error(err))
			last = err
			continue
		}

		bo := o.newBackOff()
		cacheGone := false
		for attempt := 1; attempt <= o.cfg.MaxRetriesPerModel; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			var handle *models.CacheHandle
			if i == 0 && attempt == 1 && !cacheGone {
				handle = req.Cache
			}

			comp, att, err := o.call(ctx, provider, mc, req, handle, attempt)
			if err == nil {
				out, rerr := o.repairer.Repair(comp.Text, req.Shape)
				if rerr != nil {
					att.Outcome = models.OutcomeInvalid
					att.Error = rerr.Error()
					res.Attempts = append(res.Attempts, att)
					last = rerr
					if o.cfg.FallbackOnInvalidResponse {
						log.Warn("invalid response, trying next model", zap.Error(rerr))
						break
					}
					o.stats.RecordFailure()
					return nil, rerr
				}

				res.Attempts = append(res.Attempts, att)
				res.JSON = out.JSON
				res.ModelUsed = mc.Model
				res.Provider = mc.Provider
				res.Usage = comp.Usage
				res.Fallback = i > 0
				res.RepairStage = out.Stage
				res.Latency = time.Since(start)
				if res.Fallback {
					o.stats.RecordFallback()
				} else {
					o.stats.RecordPrimary()
				}
				log.Info("generation succeeded",
					zap.Int("attempt", attempt),
					zap.Bool("fallback", res.Fallback),
					zap.Bool("cached", att.UsedCache),
					zap.Stringer("repair_stage", out.Stage),
					zap.Int("total_tokens", comp.Usage.TotalTokens),
					zap.Duration("latency", res.Latency),
				)
				return res, nil
			}

			res.Attempts = append(res.Attempts, att)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = err

			pe, _ := llm.AsProviderError(err)
			if handle != nil && pe != nil && pe.StatusCode == http.StatusNotFound {
				log.Warn("cached content gone, retrying uncached", zap.String("cache_key", handle.Key))
				if o.cache != nil {
					o.cache.Invalidate(handle.Key)
				}
				// the uncached call reuses this attempt number
				cacheGone = true
				attempt--
				continue
			}
			if pe == nil || !pe.Retryable {
				log.Warn("fatal error, trying next model", zap.Int("attempt", attempt), zap.Error(err))
				break
			}
			if attempt == o.cfg.MaxRetriesPerModel {
				log.Warn("retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
				break
			}

			wait := bo.NextBackOff()
			log.Info("retrying", zap.Int("attempt", attempt), zap.Int("status", pe.StatusCode), zap.Duration("backoff", wait))
			if err := o.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	o.stats.RecordFailure()
	err := &ExhaustedError{Models: names, Attempts: res.Attempts, Last: last}
	o.log.Error("all models failed", zap.Strings("models", names), zap.Error(last))
	return nil, err
}

// call makes one backend request under the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, p llm.Provider, mc models.ModelConfig, req Request, handle *models.CacheHandle, attempt int) (*llm.Completion, models.Attempt, error) {
	att := models.Attempt{
		Model:     mc.Model,
		Provider:  mc.Provider,
		Number:    attempt,
		UsedCache: handle != nil,
	}

	callCtx := ctx
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	comp, err := p.Generate(callCtx, llm.Request{
		SystemPrompt:  req.SystemPrompt,
		StaticPrompt:  req.StaticPrompt,
		DynamicPrompt: req.DynamicPrompt,
		Model:         mc,
		Cache:         handle,
		Schema:        req.ResponseSchema,
	})
	att.Latency = time.Since(start)

	if err == nil {
		att.Outcome = models.OutcomeSuccess
		return comp, att, nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		if _, ok := llm.AsProviderError(err); !ok {
			err = llm.NewStatusError(mc.Provider, mc.Model, http.StatusGatewayTimeout, "request timed out", err)
		}
	}

	att.Error = err.Error()
	att.Outcome = models.OutcomeFatal
	if pe, ok := llm.AsProviderError(err); ok {
		att.StatusCode = pe.StatusCode
		if pe.Retryable {
			att.Outcome = models.OutcomeRetryable
		}
	}
	return nil, att, err
}

// newBackOff yields BaseDelay, 2·BaseDelay, 4·BaseDelay... without jitter.
func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
