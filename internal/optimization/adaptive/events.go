package adaptive

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// EventKind identifies the transition that produced an Event.
type EventKind int

const (
	// EventIncrease fires when the iteration term is raised.
	EventIncrease EventKind = iota + 1
	// EventThresholdStop fires when the metric crosses the early stop threshold.
	EventThresholdStop
	// EventBudgetStop fires when the iteration term has reached its ceiling.
	EventBudgetStop
)

func (k EventKind) String() string {
	switch k {
	case EventIncrease:
		return "increase"
	case EventThresholdStop:
		return "threshold_stop"
	case EventBudgetStop:
		return "budget_stop"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a verbose notice emitted by a Controller.
type Event struct {
	Kind  EventKind
	Mode  Mode
	Epoch int

	// Metric and Threshold are set for threshold stops.
	Metric    float64
	Threshold float64

	// OldIterTerm and NewIterTerm are set for increases.
	OldIterTerm float64
	NewIterTerm float64

	MaxIter float64
}

// String renders the event as a human-readable line.
func (e Event) String() string {
	switch e.Kind {
	case EventIncrease:
		return fmt.Sprintf("Epoch %5d: increasing iterations from %5.1f to %5.1f", e.Epoch, e.OldIterTerm, e.NewIterTerm)
	case EventThresholdStop:
		subject := "validation loss"
		if e.Mode == Max {
			subject = "validation metric"
		}
		return fmt.Sprintf("Early stopping: %s %v reached threshold %v", subject, e.Metric, e.Threshold)
	case EventBudgetStop:
		return fmt.Sprintf("Early stopping: reached maximum iterations %v", e.MaxIter)
	default:
		return e.Kind.String()
	}
}

// Notifier receives controller events.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

type multiNotifier []Notifier

func (m multiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Notifiers fans events out to every non-nil notifier in order.
func Notifiers(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

type writerNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier writes each event as one line to w.
func NewWriterNotifier(w io.Writer) Notifier {
	return &writerNotifier{w: w}
}

func (n *writerNotifier) Notify(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.w, e.String())
}

type zapNotifier struct {
	logger *zap.Logger
}

// NewZapNotifier logs each event at info level with structured fields.
func NewZapNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapNotifier{logger: logger}
}

func (n *zapNotifier) Notify(e Event) {
	fields := []zap.Field{
		zap.String("event", e.Kind.String()),
		zap.String("mode", e.Mode.String()),
		zap.Int("epoch", e.Epoch),
	}
	switch e.Kind {
	case EventIncrease:
		fields = append(fields,
			zap.Float64("old_iter_term", e.OldIterTerm),
			zap.Float64("new_iter_term", e.NewIterTerm),
		)
	case EventThresholdStop:
		fields = append(fields,
			zap.Float64("metric", e.Metric),
			zap.Float64("threshold", e.Threshold),
		)
	case EventBudgetStop:
		fields = append(fields, zap.Float64("max_iter", e.MaxIter))
	}
	n.logger.Info(e.String(), fields...)
}
