// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookledger/internal/access"
	"bookledger/internal/ledger"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Logger is the logging surface of the engine. *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ChaosExperiment defines a chaos engineering test against a ledger.
type ChaosExperiment struct {
	Name        string
	Hypothesis  string
	Setup       []Action
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0 (share of the catalog touched)
}

// Metric defines a measurable ledger property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action is a load or fault injection step.
type Action struct {
	Type       string
	Target     string
	Parameters map[string]any
	Execute    func(context.Context) error
}

// Assertion validates experiment outcome
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures experiment execution data
type ExperimentResult struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ChaosEngine orchestrates chaos experiments against a ledger service,
// local or remote.
type ChaosEngine struct {
	tracer         trace.Tracer
	logger         Logger
	svc            ledger.Service
	owner          access.Principal
	sampleInterval time.Duration
	observe        time.Duration
	pause          time.Duration
	experiments    []ChaosExperiment
	results        []ExperimentResult
	mu             sync.Mutex
}

// Option configures a ChaosEngine.
type Option func(*ChaosEngine)

// WithSampleInterval sets how often metrics are sampled while observing.
func WithSampleInterval(d time.Duration) Option {
	return func(ce *ChaosEngine) {
		ce.sampleInterval = d
	}
}

// WithObservation sets the observation window of the predefined experiments.
func WithObservation(d time.Duration) Option {
	return func(ce *ChaosEngine) {
		ce.observe = d
	}
}

// WithPause sets the wait between game day experiments.
func WithPause(d time.Duration) Option {
	return func(ce *ChaosEngine) {
		ce.pause = d
	}
}

// NewChaosEngine targets svc, acting as owner for catalog setup.
func NewChaosEngine(svc ledger.Service, owner access.Principal, logger Logger, opts ...Option) *ChaosEngine {
	ce := &ChaosEngine{
		tracer:         otel.Tracer("bookledger/chaos"),
		logger:         logger,
		svc:            svc,
		owner:          owner,
		sampleInterval: time.Second,
		observe:        30 * time.Second,
		pause:          30 * time.Second,
		experiments:    make([]ChaosExperiment, 0),
		results:        make([]ExperimentResult, 0),
	}
	for _, opt := range opts {
		opt(ce)
	}
	return ce
}

// RegisterExperiment adds an experiment to the test suite
func (ce *ChaosEngine) RegisterExperiment(exp ChaosExperiment) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.experiments = append(ce.experiments, exp)
}

// GetExperiments returns the list of registered experiments.
func (ce *ChaosEngine) GetExperiments() []ChaosExperiment {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return append([]ChaosExperiment(nil), ce.experiments...)
}

// Results returns every finished experiment in run order.
func (ce *ChaosEngine) Results() []ExperimentResult {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return append([]ExperimentResult(nil), ce.results...)
}

// RunExperiment executes a single chaos experiment
func (ce *ChaosEngine) RunExperiment(ctx context.Context, exp ChaosExperiment) (*ExperimentResult, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 0: prepare fixtures
	span.AddEvent("setup")
	for _, action := range exp.Setup {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			return result, err
		}
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := ce.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.SteadyStateValid = false
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	ce.observeMetrics(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = ce.validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	ce.mu.Lock()
	ce.results = append(ce.results, *result)
	ce.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return result, nil
}

func (ce *ChaosEngine) observeMetrics(ctx context.Context, exp ChaosExperiment, result *ExperimentResult) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	recoveryStart := time.Time{}
	systemRecovered := false

	ticker := time.NewTicker(ce.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}

		for _, metric := range exp.SteadyState {
			value, err := metric.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
					Timestamp: time.Now(),
					Error:     err.Error(),
					Component: metric.Name,
				})
				continue
			}

			result.Observations[metric.Name] = append(
				result.Observations[metric.Name],
				DataPoint{Timestamp: time.Now(), Value: value},
			)

			if !ce.evaluateThreshold(value, metric.Threshold) {
				if recoveryStart.IsZero() {
					recoveryStart = time.Now()
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  time.Now(),
				})
			} else if !recoveryStart.IsZero() && !systemRecovered {
				mttr := time.Since(recoveryStart)
				result.MTTR = &mttr
				systemRecovered = true
			}
		}
	}
}

func (ce *ChaosEngine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			ce.logger.Warn("steady state measurement failed", "metric", metric.Name, "error", err)
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}

		if !ce.evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func (ce *ChaosEngine) evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// validateAssertions checks each assertion against the final observation of
// its metric and returns the messages of those that failed.
func (ce *ChaosEngine) validateAssertions(assertions []Assertion, result *ExperimentResult) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 {
			failed = append(failed, assertion.Message+" (no observations)")
			continue
		}

		finalValue := observations[len(observations)-1].Value
		if !assertion.Condition(finalValue) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []ChaosExperiment
	Participants []string
	Runbooks     map[string]string
}

// ExecuteGameDay runs every scenario in order, pausing between them, and
// returns the results of those that completed.
func (ce *ChaosEngine) ExecuteGameDay(ctx context.Context, gameDay GameDay) ([]*ExperimentResult, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	ce.logger.Info("starting game day",
		"name", gameDay.Name,
		"date", gameDay.Date,
		"participants", gameDay.Participants,
	)

	results := make([]*ExperimentResult, 0, len(gameDay.Scenarios))
	for i, scenario := range gameDay.Scenarios {
		if i > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(ce.pause):
			}
		}

		ce.logger.Info("running experiment",
			"index", i+1,
			"total", len(gameDay.Scenarios),
			"name", scenario.Name,
			"hypothesis", scenario.Hypothesis,
		)

		result, err := ce.RunExperiment(ctx, scenario)
		if err != nil {
			ce.logger.Error("experiment failed", "name", scenario.Name, "error", err)
			continue
		}

		ce.logExperimentResult(result, gameDay.Runbooks[scenario.Name])
		results = append(results, result)
	}

	return results, nil
}

func (ce *ChaosEngine) logExperimentResult(result *ExperimentResult, runbook string) {
	args := []any{
		"name", result.ExperimentName,
		"duration", result.Duration,
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
	}
	if result.MTTR != nil {
		args = append(args, "mttr", *result.MTTR)
	}

	if result.HypothesisHeld {
		ce.logger.Info("hypothesis held", args...)
		return
	}

	args = append(args, "failed_assertions", result.FailedAssertions)
	if runbook != "" {
		args = append(args, "runbook", runbook)
	}
	ce.logger.Warn("hypothesis violated", args...)
}
