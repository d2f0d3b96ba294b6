// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order book
// snapshots, liquidity samples, side-channel alerts, classifier decisions,
// scheduled tasks, and health/event payloads. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Regime is the classifier's output label. The three named regimes are
// mutually exclusive; NoRegime means no rule matched.
type Regime string

const (
	RegimeCascadeHunter    Regime = "CASCADE_HUNTER"
	RegimeCoilWatcher      Regime = "COIL_WATCHER"
	RegimeShakeoutDetector Regime = "SHAKEOUT_DETECTOR"
	NoRegime               Regime = "NO_REGIME"
)

// LiquidityRegime grades the current liquidity percentile into coarse bands.
type LiquidityRegime string

const (
	LiquidityUltraHigh LiquidityRegime = "ULTRA_HIGH" // percentile >= 90
	LiquidityHigh      LiquidityRegime = "HIGH"       // percentile >= 75
	LiquidityNormal    LiquidityRegime = "NORMAL"     // percentile >= 50
	LiquidityLow       LiquidityRegime = "LOW"        // percentile >= 25
	LiquidityCritical  LiquidityRegime = "CRITICAL"   // percentile < 25
)

// GradeLiquidity maps a percentile rank to its liquidity regime band.
func GradeLiquidity(percentile int) LiquidityRegime {
	switch {
	case percentile >= 90:
		return LiquidityUltraHigh
	case percentile >= 75:
		return LiquidityHigh
	case percentile >= 50:
		return LiquidityNormal
	case percentile >= 25:
		return LiquidityLow
	default:
		return LiquidityCritical
	}
}

// SampleStatus marks whether a liquidity sample was computed from a sane book.
type SampleStatus string

const (
	SampleOK      SampleStatus = "OK"
	SampleInvalid SampleStatus = "INVALID_DATA"
)

// ComponentState is the health of one ingest component as surfaced on /status.
type ComponentState string

const (
	StateOnline  ComponentState = "ONLINE"
	StateLimited ComponentState = "LIMITED"
	StateOffline ComponentState = "OFFLINE"
)

// ThreatLevel ranks a whale intent by estimated transfer value.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// AlertType identifies a time-bounded side-channel alert that relaxes the
// classifier's liquidity threshold while active.
type AlertType string

const (
	AlertOISpike        AlertType = "OI_SPIKE"
	AlertFundingSpike   AlertType = "FUNDING_SPIKE"
	AlertWhaleSpike     AlertType = "WHALE_SPIKE"
	AlertHighVolatility AlertType = "HIGH_VOLATILITY"
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// Level is a single bid or ask level. Prices and quantities are decimals so
// no precision is lost between the wire format and the analyzer.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookSnapshot is a point-in-time view of the top of the book.
// Bids are sorted descending by price, asks ascending.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// DepthSnapshot is the REST response shape for a full depth snapshot
// (GET /api/v3/depth). Levels arrive as [price, qty] string pairs.
type DepthSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// DepthUpdate is one incremental diff-depth event from the order-book stream.
// A quantity of "0" removes the level; any other quantity replaces it.
type DepthUpdate struct {
	EventType     string      `json:"e"` // "depthUpdate"
	EventTime     int64       `json:"E"` // epoch ms
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// ————————————————————————————————————————————————————————————————————————
// Liquidity analysis
// ————————————————————————————————————————————————————————————————————————

// LiquidityComponents are the normalized [0,100] inputs to the composite DLS.
type LiquidityComponents struct {
	Depth   float64 `json:"depth"`
	Density float64 `json:"density"`
	Spread  float64 `json:"spread"`
	Impact  float64 `json:"impact"`
	Volume  float64 `json:"volume"`
}

// LiquidityEvent is a derived notification emitted when the percentile
// crosses into a notable band. Empty when nothing notable happened.
type LiquidityEvent string

const (
	EventHighLiquidityRegime LiquidityEvent = "HIGH_LIQUIDITY_REGIME"       // percentile >= 90
	EventLowLiquidityWarning LiquidityEvent = "LOW_LIQUIDITY_WARNING"       // 10 < percentile <= 25
	EventCriticalLiquidity   LiquidityEvent = "CRITICAL_LIQUIDITY_DETECTED" // percentile <= 10
)

// LiquiditySample is the analyzer output for one order-book snapshot.
type LiquiditySample struct {
	Status           SampleStatus        `json:"status"`
	DLS              int                 `json:"dls"`        // [0,100] composite score
	Percentile       int                 `json:"percentile"` // rank within 24h rolling history
	Regime           LiquidityRegime     `json:"regime"`
	Components       LiquidityComponents `json:"components"`
	IsValidForSignal bool                `json:"isValidForSignal"`
	Event            LiquidityEvent      `json:"event,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Side channels: whales and derivatives
// ————————————————————————————————————————————————————————————————————————

// WhaleIntent is an observation of a pending high-value transfer from a
// tagged address. Treated as a transient signal with a short validity window.
type WhaleIntent struct {
	ID                string      `json:"id"`
	Kind              string      `json:"kind"` // "native" or "erc20"
	WhaleAddress      string      `json:"whaleAddress"`
	EstimatedValueUSD float64     `json:"estimatedValue"`
	TargetExchange    string      `json:"targetExchange,omitempty"`
	ThreatLevel       ThreatLevel `json:"threatLevel"`
	DetectionLatency  int64       `json:"detectionLatencyMs"`
	Timestamp         time.Time   `json:"timestamp"`
}

// DerivativesUpdate is one normalized tick from a derivatives venue.
// Exactly one of the metric fields is meaningful per update.
type DerivativesUpdate struct {
	Venue        string    `json:"venue"`
	Symbol       string    `json:"symbol"`
	OpenInterest float64   `json:"openInterest,omitempty"`
	FundingRate  float64   `json:"fundingRate,omitempty"`
	MarkPrice    float64   `json:"markPrice,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DerivativesAlert is a time-bounded side-channel record produced by the
// spike detectors and consumed by the classifier's adaptive threshold.
type DerivativesAlert struct {
	Type      AlertType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Classifier
// ————————————————————————————————————————————————————————————————————————

// ClassifierInputs is the per-tick feature tuple the classifier decides on.
type ClassifierInputs struct {
	Price      float64   `json:"price"`
	DLSScore   int       `json:"dlsScore"`
	Percentile int       `json:"dlsPercentile"`
	Pressure   float64   `json:"pressure"`
	Momentum   float64   `json:"momentum"` // percent change over the momentum window
	Timestamp  time.Time `json:"timestamp"`
}

// RegimeCheck records whether one regime's rule passed and, if not, which
// conditions failed ("Pressure", "Liquidity", "Momentum").
type RegimeCheck struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// ThresholdAdjustment is one active reduction applied to the base DLS
// threshold by a live side-channel alert.
type ThresholdAdjustment struct {
	Source    AlertType `json:"source"`
	Reduction int       `json:"reduction"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AdaptiveThreshold is the effective DLS percentile requirement and how it
// was derived, returned with every decision for observability.
type AdaptiveThreshold struct {
	Base        int                   `json:"base"`
	Effective   int                   `json:"effective"`
	Floor       int                   `json:"floor"`
	Adjustments []ThresholdAdjustment `json:"adjustments,omitempty"`
}

// ClassifierDecision is the structured output of one classification tick.
type ClassifierDecision struct {
	Regime     Regime                 `json:"regime"`
	Confidence int                    `json:"confidence"` // [0,100]
	Inputs     ClassifierInputs       `json:"inputs"`
	Checks     map[Regime]RegimeCheck `json:"checks"`
	Threshold  AdaptiveThreshold      `json:"adaptiveThreshold"`
	Timestamp  time.Time              `json:"timestamp"`
}

// RegimeEvent is what the engine fans out to downstream consumers whenever a
// non-NO_REGIME decision is produced. Consumers own their own cooldowns.
type RegimeEvent struct {
	Symbol    string             `json:"symbol"`
	Decision  ClassifierDecision `json:"decision"`
	EmittedAt time.Time          `json:"emittedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Tasks
// ————————————————————————————————————————————————————————————————————————

// TaskType enumerates the periodic intelligence jobs the worker pool runs.
type TaskType string

const (
	TaskWhaleBalanceCheck  TaskType = "WHALE_BALANCE_CHECK"
	TaskSystemHealthCheck  TaskType = "SYSTEM_HEALTH_CHECK"
	TaskPerformanceMetrics TaskType = "PERFORMANCE_METRICS"
	TaskAPIHealthCheck     TaskType = "API_HEALTH_CHECK"
	TaskMemoryCleanup      TaskType = "MEMORY_CLEANUP"
)

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// TaskConfig is what callers submit to the scheduler.
type TaskConfig struct {
	Type         TaskType
	Priority     int // 1..10, higher dispatches first
	Payload      map[string]any
	MaxRetries   int
	Timeout      time.Duration // per-attempt execution deadline
	ScheduledAt  time.Time     // zero = ready immediately
	Dependencies []string      // task IDs that must be COMPLETED first
}

// Task is the scheduler's internal record for one submitted job.
type Task struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"type"`
	Priority     int            `json:"priority"`
	Payload      map[string]any `json:"payload,omitempty"`
	RetryCount   int            `json:"retryCount"`
	MaxRetries   int            `json:"maxRetries"`
	Timeout      time.Duration  `json:"timeoutMs"`
	ScheduledAt  time.Time      `json:"scheduledAt"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       TaskStatus     `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    time.Time      `json:"startedAt,omitzero"`
	FinishedAt   time.Time      `json:"finishedAt,omitzero"`
}

// TaskResult is the worker's response for one executed task attempt.
type TaskResult struct {
	TaskID   string         `json:"taskId"`
	Data     map[string]any `json:"data,omitempty"`
	Err      string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// ————————————————————————————————————————————————————————————————————————
// Notifications and health
// ————————————————————————————————————————————————————————————————————————

// MessagePriority orders outbound notifications: CRITICAL > HIGH > NORMAL > LOW.
type MessagePriority int

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// HealthEvent is published by an ingest stream when its connectivity state
// changes (connected, degraded, recovered).
type HealthEvent struct {
	Component string         `json:"component"`
	State     ComponentState `json:"state"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
