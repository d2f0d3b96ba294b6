// Package engine wires the whole system together: ingest feeds, the
// liquidity analyzer, the classifier, the scheduler, and the outbound
// sinks.
//
// All market-data processing happens on one goroutine (the tick loop), so
// the analyzer ring, the momentum window and the classifier's alert set
// never need locks. Feeds hand their messages over through channels; the
// scheduler and the Telegram sink run their own loops and communicate by
// message passing only. Metrics are atomic counters so the HTTP control
// plane can read them from any goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"

	"sentrycoin/internal/classifier"
	"sentrycoin/internal/config"
	"sentrycoin/internal/exchange"
	"sentrycoin/internal/liquidity"
	"sentrycoin/internal/logging"
	"sentrycoin/internal/market"
	"sentrycoin/internal/notify"
	"sentrycoin/internal/sched"
	"sentrycoin/internal/whale"
	"sentrycoin/pkg/types"
)

const (
	whaleBufferSize  = 64
	diagnosticPeriod = time.Second // forced-diagnostic check cadence
	version          = "1.0.0"
)

// Consumer receives regime events. Consumers own their own cooldowns; the
// engine publishes every detection.
type Consumer interface {
	OnRegime(ev types.RegimeEvent)
}

// Metrics are the engine's atomic activity counters.
type Metrics struct {
	OrderBookTicks     atomic.Int64
	InvalidSamples     atomic.Int64
	DerivativesUpdates atomic.Int64
	WhaleIntents       atomic.Int64
	RegimesDetected    atomic.Int64
	AlertsRaised       atomic.Int64
}

// MetricsSnapshot is the JSON view served by /status and /performance.
type MetricsSnapshot struct {
	Symbol             string                          `json:"symbol"`
	UptimeSeconds      float64                         `json:"uptimeSeconds"`
	OrderBookTicks     int64                           `json:"orderBookTicks"`
	InvalidSamples     int64                           `json:"invalidSamples"`
	DerivativesUpdates int64                           `json:"derivativesUpdates"`
	WhaleIntents       int64                           `json:"whaleIntents"`
	RegimesDetected    int64                           `json:"regimesDetected"`
	AlertsRaised       int64                           `json:"alertsRaised"`
	LastPrice          float64                         `json:"lastPrice"`
	RingLen            int                             `json:"dlsRingLen"`
	Scheduler          sched.Stats                     `json:"scheduler"`
	Notifier           notify.Stats                    `json:"notifier"`
	Logger             logging.Stats                   `json:"logger"`
	Classifier         classifier.Stats                `json:"classifier"`
	Health             map[string]types.ComponentState `json:"health"`
}

// Engine owns every component and their lifecycle.
type Engine struct {
	cfg *config.Config
	log *logging.Logger
	sl  *slog.Logger

	rest     *exchange.Client
	depth    *exchange.DepthFeed
	perp     *exchange.DerivFeed
	mark     *exchange.DerivFeed
	book     *market.Book
	momentum *market.MomentumWindow
	analyzer *liquidity.Analyzer
	clf      *classifier.Classifier
	sched    *sched.Scheduler
	sink     *notify.Sink

	watchlist *whale.Watchlist
	decoder   *whale.Decoder
	balance   *whale.BalanceClient
	cron      *cron.Cron

	whaleCh chan types.WhaleIntent

	consumersMu sync.Mutex
	consumers   []Consumer

	healthMu sync.Mutex
	health   map[string]types.ComponentState

	metrics   Metrics
	lastPrice atomic.Uint64 // math.Float64bits
	startedAt time.Time

	// Spike-detector state, owned by the tick loop.
	lastOI   float64
	lastMark float64

	initialized atomic.Bool
	running     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New constructs the engine and its components. Analyzer or classifier
// construction problems are fatal; everything else degrades.
func New(cfg *config.Config, log *logging.Logger) (*Engine, error) {
	if cfg.Liquidity.RingSize <= 0 {
		return nil, fmt.Errorf("liquidity analyzer: ring size must be positive")
	}

	sl := log.Slog()
	e := &Engine{
		cfg:      cfg,
		log:      log,
		sl:       sl.With("component", "engine"),
		book:     market.NewBook(cfg.Symbol),
		momentum: market.NewMomentumWindow(5 * time.Minute),
		analyzer: liquidity.NewAnalyzer(cfg.Liquidity),
		clf:      classifier.New(classifier.ProfileByName(cfg.Classifier.Profile), cfg.Classifier),
		sched:    sched.New(cfg.Scheduler, sl),
		sink:     notify.New(cfg.Telegram, sl),
		whaleCh:  make(chan types.WhaleIntent, whaleBufferSize),
		health:   make(map[string]types.ComponentState),
		cron:     cron.New(),
	}

	e.watchlist = whale.NewWatchlist(cfg.Whale.Watchlist, cfg.Whale.ExchangeTags)
	e.decoder = whale.NewDecoder(cfg.Whale, e.watchlist, e.priceSource())
	e.balance = whale.NewBalanceClient(cfg.Whale, e.priceSource(), sl)

	if cfg.RealTime {
		e.rest = exchange.NewClient(cfg.Exchange, sl)
		e.depth = exchange.NewDepthFeed(cfg.Exchange.WSDepthURL, cfg.Symbol, cfg.Exchange.MaxReconnects, sl)
		if cfg.Exchange.WSDerivURL != "" {
			e.perp = exchange.NewPerpFeed(cfg.Exchange.WSDerivURL, []string{"tickers." + cfg.Symbol}, cfg.Exchange.MaxReconnects, sl)
		}
		if cfg.Exchange.WSMarkURL != "" {
			e.mark = exchange.NewMarkFeed(cfg.Exchange.WSMarkURL, cfg.Exchange.MaxReconnects, sl)
		}
	}

	return e, nil
}

func (e *Engine) priceSource() whale.PriceSource {
	return func() float64 {
		return math.Float64frombits(e.lastPrice.Load())
	}
}

// Initialize registers task handlers, recurring jobs and default health.
func (e *Engine) Initialize() error {
	probeClient := resty.New().SetTimeout(10 * time.Second)
	handlers := sched.NewHandlers(e.balance, probeClient, e.log.Slog())
	handlers.RegisterAll(e.sched)

	e.setHealth("depth", types.StateOffline)
	e.setHealth("deriv_perp", types.StateOffline)
	e.setHealth("deriv_mark", types.StateOffline)
	e.setHealth("webhook", types.StateOnline)

	if err := e.registerRecurringTasks(); err != nil {
		return fmt.Errorf("recurring tasks: %w", err)
	}

	e.initialized.Store(true)
	e.sl.Info("engine initialized",
		"symbol", e.cfg.Symbol,
		"profile", e.cfg.Classifier.Profile,
		"watchlist", e.watchlist.Len(),
		"paperTrading", e.cfg.PaperTrading,
		"realTime", e.cfg.RealTime,
	)
	return nil
}

// registerRecurringTasks wires the periodic jobs through cron so each has
// an independent cadence; the jobs themselves run on the worker pool.
func (e *Engine) registerRecurringTasks() error {
	submit := func(cfg types.TaskConfig) {
		if _, err := e.sched.Submit(cfg); err != nil {
			e.log.Warn("recurring.submit."+string(cfg.Type), err.Error())
		}
	}

	if _, err := e.cron.AddFunc("@every 30s", func() {
		submit(types.TaskConfig{Type: types.TaskSystemHealthCheck, Priority: 3})
	}); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc("@every 10m", func() {
		submit(types.TaskConfig{Type: types.TaskMemoryCleanup, Priority: 2})
	}); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc("@every 1m", func() {
		submit(types.TaskConfig{Type: types.TaskPerformanceMetrics, Priority: 2, Payload: map[string]any{
			"orderBookTicks":  e.metrics.OrderBookTicks.Load(),
			"regimesDetected": e.metrics.RegimesDetected.Load(),
		}})
	}); err != nil {
		return err
	}

	if e.cfg.RealTime && e.cfg.Exchange.RESTBaseURL != "" {
		if _, err := e.cron.AddFunc("@every 2m", func() {
			submit(types.TaskConfig{Type: types.TaskAPIHealthCheck, Priority: 3, Payload: map[string]any{
				"url": e.cfg.Exchange.RESTBaseURL + "/api/v3/ping",
			}})
		}); err != nil {
			return err
		}
	}

	// One balance probe per watched address, staggered by the scheduler's
	// priority queue rather than by cron offsets.
	every := fmt.Sprintf("@every %s", e.cfg.Whale.BalanceInterval)
	if _, err := e.cron.AddFunc(every, func() {
		for _, addr := range e.watchlist.Addresses() {
			submit(types.TaskConfig{
				Type:       types.TaskWhaleBalanceCheck,
				Priority:   4,
				Payload:    map[string]any{"address": addr},
				MaxRetries: 2,
			})
		}
	}); err != nil {
		return err
	}
	return nil
}

// Start opens the ingest streams and starts every loop. It returns after
// startup; Shutdown stops everything.
func (e *Engine) Start(ctx context.Context) error {
	if !e.initialized.Load() {
		return fmt.Errorf("engine not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = time.Now()

	e.sched.Start(runCtx)
	e.cron.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sink.Run(runCtx)
	}()

	if e.cfg.RealTime {
		e.startFeed(runCtx, "depth", func() error { return e.depth.Run(runCtx) })
		if e.perp != nil {
			e.startFeed(runCtx, "deriv_perp", func() error { return e.perp.Run(runCtx) })
		}
		if e.mark != nil {
			e.startFeed(runCtx, "deriv_mark", func() error { return e.mark.Run(runCtx) })
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tickLoop(runCtx)
	}()

	e.running.Store(true)
	e.sl.Info("engine started")
	return nil
}

func (e *Engine) startFeed(ctx context.Context, name string, run func() error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := run(); err != nil && ctx.Err() == nil {
			e.sl.Error("feed stopped", "feed", name, "error", err)
		}
	}()
}

// Shutdown stops components in reverse start order.
func (e *Engine) Shutdown() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.sl.Info("engine shutting down")

	e.cron.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	if e.depth != nil {
		e.depth.Close()
	}
	if e.perp != nil {
		e.perp.Close()
	}
	if e.mark != nil {
		e.mark.Close()
	}
	e.sched.Shutdown()
	e.wg.Wait()
	e.sl.Info("engine stopped")
}

// RegisterConsumer adds a downstream regime event consumer.
func (e *Engine) RegisterConsumer(c Consumer) {
	e.consumersMu.Lock()
	e.consumers = append(e.consumers, c)
	e.consumersMu.Unlock()
}

// IngestWebhook decodes a whale webhook payload and feeds the resulting
// intents into the tick loop. Returns the processed counts for the HTTP
// response. Safe to call from any goroutine.
func (e *Engine) IngestWebhook(payload whale.WebhookPayload) (txCount, receiptCount int) {
	intents, txCount, receiptCount := e.decoder.Decode(payload, time.Now())
	for _, intent := range intents {
		select {
		case e.whaleCh <- intent:
		default:
			e.log.Warn("whale.intake.overflow", intent.ID)
		}
	}
	return txCount, receiptCount
}

// tickLoop is the single consumer for all market data. Everything that
// touches the analyzer, the momentum window or the classifier happens here.
func (e *Engine) tickLoop(ctx context.Context) {
	diag := time.NewTicker(diagnosticPeriod)
	defer diag.Stop()

	var (
		depthCh  <-chan types.DepthUpdate
		depthHCh <-chan types.HealthEvent
		perpCh   <-chan types.DerivativesUpdate
		perpHCh  <-chan types.HealthEvent
		markCh   <-chan types.DerivativesUpdate
		markHCh  <-chan types.HealthEvent
	)
	if e.depth != nil {
		depthCh = e.depth.Updates()
		depthHCh = e.depth.Health()
	}
	if e.perp != nil {
		perpCh = e.perp.Updates()
		perpHCh = e.perp.Health()
	}
	if e.mark != nil {
		markCh = e.mark.Updates()
		markHCh = e.mark.Health()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case upd := <-depthCh:
			e.onDepthUpdate(upd)

		case ev := <-depthHCh:
			e.onStreamHealth(ctx, ev, true)

		case upd := <-perpCh:
			e.onDerivatives(upd)
		case ev := <-perpHCh:
			e.onStreamHealth(ctx, ev, false)

		case upd := <-markCh:
			e.onDerivatives(upd)
		case ev := <-markHCh:
			e.onStreamHealth(ctx, ev, false)

		case intent := <-e.whaleCh:
			e.onWhaleIntent(intent)

		case <-diag.C:
			if fd := e.clf.MaybeForcedDiagnostic(time.Now()); fd != nil {
				e.log.Force("classifier.forced_diagnostic", fd, logging.LevelCritical)
			}
		}
	}
}

// onStreamHealth records stream state; a freshly connected depth stream is
// reseeded with a REST snapshot before any delta is applied to a stale book.
func (e *Engine) onStreamHealth(ctx context.Context, ev types.HealthEvent, isDepth bool) {
	e.setHealth(ev.Component, ev.State)
	e.log.Log("ingest.health."+ev.Component, string(ev.State), levelFor(ev.State), "detail", ev.Detail)

	if isDepth && ev.State == types.StateOnline {
		e.seedBook(ctx)
	}
}

func (e *Engine) seedBook(ctx context.Context) {
	snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := e.rest.GetDepthSnapshot(snapCtx, e.cfg.Symbol)
	if err != nil {
		// Degraded with an empty book; deltas will be dropped until the
		// next successful seed.
		e.book.Reset()
		e.setHealth("depth", types.StateLimited)
		e.log.Error("book.seed", err.Error())
		return
	}
	if err := e.book.ApplySnapshot(snap); err != nil {
		e.book.Reset()
		e.log.Error("book.seed.apply", err.Error())
		return
	}
	e.log.Info("book.seed", snap.LastUpdateID, "bids", len(snap.Bids), "asks", len(snap.Asks))
}

// onDepthUpdate runs one full tick: book -> analyzer -> classifier ->
// fan-out. The diagnostic record is always logged before the regime event
// is published.
func (e *Engine) onDepthUpdate(upd types.DepthUpdate) {
	applied, err := e.book.ApplyDelta(upd)
	if err != nil {
		e.log.Warn("book.delta", err.Error())
		return
	}
	if !applied {
		return // stale updateId, dropped
	}

	e.metrics.OrderBookTicks.Add(1)
	now := time.Now()

	snap := e.book.Snapshot(e.cfg.Exchange.Depth)
	sample := e.analyzer.Analyze(snap)
	if sample.Status != types.SampleOK {
		e.metrics.InvalidSamples.Add(1)
		e.log.Warn("analyzer.invalid_sample", sample.Status)
		return
	}

	mid, ok := e.book.MidPrice()
	if !ok {
		return
	}
	e.lastPrice.Store(math.Float64bits(mid))
	e.momentum.Add(mid, now)

	decision := e.clf.Classify(types.ClassifierInputs{
		Price:      mid,
		DLSScore:   sample.DLS,
		Percentile: sample.Percentile,
		Pressure:   e.book.Pressure(e.cfg.Exchange.Depth),
		Momentum:   e.momentum.Momentum(),
		Timestamp:  now,
	})

	// Glass box: the full decision record goes to the stateful log on
	// every tick; dedup keeps the stream readable while nothing changes.
	e.log.Log("classifier.decision", decision, levelForRegime(decision.Regime))
	if sample.Event != "" {
		e.log.Info("liquidity.event", sample.Event, "percentile", sample.Percentile)
	}

	if decision.Regime == types.NoRegime {
		return
	}
	e.metrics.RegimesDetected.Add(1)
	e.publishRegime(types.RegimeEvent{
		Symbol:    e.cfg.Symbol,
		Decision:  decision,
		EmittedAt: now,
	})
}

func (e *Engine) publishRegime(ev types.RegimeEvent) {
	e.sink.Enqueue(notify.Message{
		Text:     formatRegimeMessage(ev),
		Priority: types.PriorityHigh,
	})

	e.consumersMu.Lock()
	consumers := append([]Consumer(nil), e.consumers...)
	e.consumersMu.Unlock()
	for _, c := range consumers {
		c.OnRegime(ev)
	}
}

// onDerivatives routes one venue tick through the spike detectors.
func (e *Engine) onDerivatives(upd types.DerivativesUpdate) {
	e.metrics.DerivativesUpdates.Add(1)
	cfg := e.cfg.Classifier
	now := upd.Timestamp

	if upd.OpenInterest > 0 {
		if e.lastOI > 0 {
			changePct := math.Abs(upd.OpenInterest-e.lastOI) / e.lastOI * 100
			if changePct >= cfg.OISpikePct {
				e.raiseAlert(types.AlertOISpike, map[string]any{"changePct": changePct, "openInterest": upd.OpenInterest}, now, cfg.OIAlertTTL)
			}
		}
		e.lastOI = upd.OpenInterest
	}

	if upd.FundingRate != 0 && math.Abs(upd.FundingRate) >= cfg.FundingSpikeRate {
		e.raiseAlert(types.AlertFundingSpike, map[string]any{"fundingRate": upd.FundingRate}, now, cfg.OIAlertTTL)
	}

	if upd.MarkPrice > 0 {
		if e.lastMark > 0 {
			movePct := math.Abs(upd.MarkPrice-e.lastMark) / e.lastMark * 100
			if movePct >= cfg.VolatilitySpikePct {
				e.raiseAlert(types.AlertHighVolatility, map[string]any{"movePct": movePct, "markPrice": upd.MarkPrice}, now, cfg.OIAlertTTL)
			}
		}
		e.lastMark = upd.MarkPrice
	}
}

func (e *Engine) onWhaleIntent(intent types.WhaleIntent) {
	e.metrics.WhaleIntents.Add(1)
	e.log.Info("whale.intent", intent, "threat", string(intent.ThreatLevel))

	if e.decoder.ShouldAlert(intent) {
		e.raiseAlert(types.AlertWhaleSpike, map[string]any{
			"address":      intent.WhaleAddress,
			"estimatedUSD": intent.EstimatedValueUSD,
			"exchange":     intent.TargetExchange,
		}, intent.Timestamp, e.cfg.Classifier.WhaleAlertTTL)
	}

	if intent.ThreatLevel == types.ThreatCritical {
		e.sink.Enqueue(notify.Message{
			Text:     formatWhaleMessage(intent),
			Priority: types.PriorityCritical,
		})
	}
}

func (e *Engine) raiseAlert(t types.AlertType, data map[string]any, now time.Time, ttl time.Duration) {
	e.metrics.AlertsRaised.Add(1)
	e.clf.RaiseAlert(types.DerivativesAlert{
		Type:      t,
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	})
	e.log.Warn("alert.raised."+string(t), data)
}

// ————————————————————————————————————————————————————————————————————————
// Introspection for the control plane
// ————————————————————————————————————————————————————————————————————————

// Initialized reports whether Initialize completed.
func (e *Engine) Initialized() bool { return e.initialized.Load() }

// Running reports whether the engine loops are live.
func (e *Engine) Running() bool { return e.running.Load() }

// Symbol returns the traded pair.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// Version is the service version string.
func (e *Engine) Version() string { return version }

// SystemHealth returns a copy of the per-component health map.
func (e *Engine) SystemHealth() map[string]types.ComponentState {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	out := make(map[string]types.ComponentState, len(e.health))
	for k, v := range e.health {
		out[k] = v
	}
	return out
}

// ComponentsOnline counts components currently ONLINE.
func (e *Engine) ComponentsOnline() int {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	n := 0
	for _, st := range e.health {
		if st == types.StateOnline {
			n++
		}
	}
	return n
}

// GetMetrics assembles the full metrics snapshot.
func (e *Engine) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		Symbol:             e.cfg.Symbol,
		UptimeSeconds:      time.Since(e.startedAt).Seconds(),
		OrderBookTicks:     e.metrics.OrderBookTicks.Load(),
		InvalidSamples:     e.metrics.InvalidSamples.Load(),
		DerivativesUpdates: e.metrics.DerivativesUpdates.Load(),
		WhaleIntents:       e.metrics.WhaleIntents.Load(),
		RegimesDetected:    e.metrics.RegimesDetected.Load(),
		AlertsRaised:       e.metrics.AlertsRaised.Load(),
		LastPrice:          math.Float64frombits(e.lastPrice.Load()),
		RingLen:            e.analyzer.RingLen(),
		Scheduler:          e.sched.GetStats(),
		Notifier:           e.sink.GetStats(),
		Logger:             e.log.GetStats(),
		Classifier:         e.clf.Stats(),
		Health:             e.SystemHealth(),
	}
}

func (e *Engine) setHealth(component string, state types.ComponentState) {
	e.healthMu.Lock()
	e.health[component] = state
	e.healthMu.Unlock()
}

func levelFor(state types.ComponentState) slog.Level {
	switch state {
	case types.StateOnline:
		return slog.LevelInfo
	case types.StateLimited:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func levelForRegime(r types.Regime) slog.Level {
	if r == types.NoRegime {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

func formatRegimeMessage(ev types.RegimeEvent) string {
	d := ev.Decision
	return fmt.Sprintf("*%s* on `%s`\nConfidence: %d%%\nPrice: %.2f | DLS pct: %d | Pressure: %.6f | Momentum: %.4f%%",
		d.Regime, ev.Symbol, d.Confidence, d.Inputs.Price, d.Inputs.Percentile, d.Inputs.Pressure, d.Inputs.Momentum)
}

func formatWhaleMessage(intent types.WhaleIntent) string {
	text := fmt.Sprintf("🐋 *CRITICAL whale intent*\nAddress: `%s`\nEstimated: $%.0f", intent.WhaleAddress, intent.EstimatedValueUSD)
	if intent.TargetExchange != "" {
		text += fmt.Sprintf("\nTarget: %s", intent.TargetExchange)
	}
	return text
}
