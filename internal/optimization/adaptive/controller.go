package adaptive

import (
	"math"

	"github.com/copyleftdev/adaiter/internal/optimization"
)

// Config holds the immutable settings of a Controller.
type Config struct {
	// Mode is the optimization direction.
	Mode Mode `json:"mode" yaml:"mode"`
	// Factor is added to the iteration term on stagnation. Must be > 0.
	Factor float64 `json:"factor" yaml:"factor"`
	// Patience is the number of consecutive bad epochs tolerated before an increase.
	Patience int `json:"patience" yaml:"patience"`
	// Threshold is the minimum improvement, interpreted per ThresholdMode.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// ThresholdMode selects relative or absolute improvement.
	ThresholdMode ThresholdMode `json:"threshold_mode" yaml:"threshold_mode"`
	// InitialIterTerm is the starting iteration budget.
	InitialIterTerm float64 `json:"initial_iter_term" yaml:"initial_iter_term"`
	// MaxIter caps the iteration budget.
	MaxIter float64 `json:"max_iter" yaml:"max_iter"`
	// Verbose enables event notices.
	Verbose bool `json:"verbose" yaml:"verbose"`
	// EarlyStopThreshold stops the run once the metric reaches it.
	EarlyStopThreshold float64 `json:"early_stop_threshold" yaml:"early_stop_threshold"`
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		Mode:               Min,
		Factor:             1,
		Patience:           5,
		Threshold:          1e-3,
		ThresholdMode:      Relative,
		InitialIterTerm:    1,
		MaxIter:            10,
		Verbose:            true,
		EarlyStopThreshold: 1e-4,
	}
}

// Validate reports whether the configuration can build a controller.
func (c Config) Validate() error {
	if !(c.Factor > 0) {
		return optimization.InvalidConfigurationf("factor should be > 0, got %v", c.Factor).
			WithComponent("adaptive")
	}
	_, err := WorstValue(c.Mode, c.ThresholdMode)
	return err
}

// StopReason records why the last early stop check fired.
type StopReason int

const (
	// StopNone means the run continues.
	StopNone StopReason = iota
	// StopThreshold means the metric crossed EarlyStopThreshold.
	StopThreshold
	// StopBudget means the iteration term reached MaxIter.
	StopBudget
)

func (r StopReason) String() string {
	switch r {
	case StopThreshold:
		return "threshold"
	case StopBudget:
		return "budget"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// State is a point-in-time copy of the controller's mutable fields.
type State struct {
	IterTerm     float64
	Best         float64
	NumBadEpochs int
	LastEpoch    int
	ShouldStop   bool
	StopReason   StopReason
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the sink for verbose notices.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// Controller decides, per observation, whether to raise the iteration term
// and whether to stop early. It is not safe for concurrent use.
type Controller struct {
	cfg        Config
	worstValue float64
	notifier   Notifier

	iterTerm     float64
	best         float64
	numBadEpochs int
	lastEpoch    int
	shouldStop   bool
	stopReason   StopReason
}

// New builds a controller. It fails with an error wrapping
// optimization.ErrInvalidConfiguration when cfg is invalid.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	worst, err := WorstValue(cfg.Mode, cfg.ThresholdMode)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		worstValue: worst,
		iterTerm:   cfg.InitialIterTerm,
		best:       worst,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Step records metric for the epoch after the last one processed and
// returns the current iteration term.
func (c *Controller) Step(metric float64) float64 {
	return c.StepAt(metric, c.lastEpoch+1)
}

// StepAt records metric for the given epoch and returns the current
// iteration term. Once the controller has stopped, further calls only
// record the epoch.
func (c *Controller) StepAt(metric float64, epoch int) float64 {
	c.lastEpoch = epoch
	if c.shouldStop {
		return c.iterTerm
	}

	c.stopReason = c.earlyStop(metric)
	c.shouldStop = c.stopReason != StopNone
	if c.shouldStop {
		return c.iterTerm
	}

	if IsBetter(metric, c.best, c.cfg.Mode, c.cfg.ThresholdMode, c.cfg.Threshold) {
		c.best = metric
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.numBadEpochs > c.cfg.Patience {
		c.increase(epoch)
		c.numBadEpochs = 0
	}

	return c.iterTerm
}

// CheckEarlyStop reports whether metric, or the current iteration term,
// meets a stopping condition. It does not modify the tracking state.
func (c *Controller) CheckEarlyStop(metric float64) bool {
	return c.earlyStop(metric) != StopNone
}

// earlyStop evaluates the stop conditions in fixed priority order: the
// direction specific threshold first, then the budget ceiling.
func (c *Controller) earlyStop(metric float64) StopReason {
	switch {
	case c.cfg.Mode == Min && metric <= c.cfg.EarlyStopThreshold,
		c.cfg.Mode == Max && metric >= c.cfg.EarlyStopThreshold:
		c.notify(Event{
			Kind:      EventThresholdStop,
			Metric:    metric,
			Threshold: c.cfg.EarlyStopThreshold,
		})
		return StopThreshold
	case c.iterTerm >= c.cfg.MaxIter:
		c.notify(Event{Kind: EventBudgetStop})
		return StopBudget
	}
	return StopNone
}

func (c *Controller) increase(epoch int) {
	old := c.iterTerm
	c.iterTerm = math.Min(c.iterTerm+c.cfg.Factor, c.cfg.MaxIter)
	c.notify(Event{
		Kind:        EventIncrease,
		Epoch:       epoch,
		OldIterTerm: old,
		NewIterTerm: c.iterTerm,
	})
}

func (c *Controller) notify(e Event) {
	if !c.cfg.Verbose || c.notifier == nil {
		return
	}
	e.Mode = c.cfg.Mode
	e.MaxIter = c.cfg.MaxIter
	if e.Epoch == 0 {
		e.Epoch = c.lastEpoch
	}
	c.notifier.Notify(e)
}

// IterTerm returns the current iteration budget.
func (c *Controller) IterTerm() float64 { return c.iterTerm }

// ShouldStop returns the result of the most recent early stop check.
func (c *Controller) ShouldStop() bool { return c.shouldStop }

// Best returns the best metric observed, or the worst-value sentinel.
func (c *Controller) Best() float64 { return c.best }

// NumBadEpochs returns the count of consecutive non-improving observations.
func (c *Controller) NumBadEpochs() int { return c.numBadEpochs }

// LastEpoch returns the last epoch processed.
func (c *Controller) LastEpoch() int { return c.lastEpoch }

// WorstValue returns the sentinel best value for the configured mode.
func (c *Controller) WorstValue() float64 { return c.worstValue }

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// State returns a snapshot of the mutable fields.
func (c *Controller) State() State {
	return State{
		IterTerm:     c.iterTerm,
		Best:         c.best,
		NumBadEpochs: c.numBadEpochs,
		LastEpoch:    c.lastEpoch,
		ShouldStop:   c.shouldStop,
		StopReason:   c.stopReason,
	}
}
