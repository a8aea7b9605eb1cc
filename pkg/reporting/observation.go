package reporting

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

// Observation errors.
var (
	ErrInvalidToken  = errors.New("observation token must be 1-8 bytes")
	ErrBadAttributes = errors.New("invalid notification attributes")
)

// counterModulus bounds the rolling Observe counter (24-bit space).
const counterModulus = 1 << 24

// Attributes are the write attributes controlling notification timing.
type Attributes struct {
	// MinPeriod suppresses notifications closer together than this.
	MinPeriod time.Duration

	// MaxPeriod forces a notification after this much silence.
	// Zero means no maximum.
	MaxPeriod time.Duration

	// Less/Greater/Step are numeric thresholds, each guarded by its Has
	// flag.
	Less       float64
	HasLess    bool
	Greater    float64
	HasGreater bool
	Step       float64
	HasStep    bool
}

// ParseAttributes extracts pmin/pmax/lt/gt/st from Uri-Query values.
// Unknown parameters are ignored.
func ParseAttributes(queries []string) (Attributes, error) {
	var a Attributes
	for _, q := range queries {
		key, value, found := cut(q)
		if !found {
			continue
		}
		switch key {
		case "pmin":
			n, err := strconv.ParseInt(value, 10, 32)
			if err != nil || n < 0 {
				return Attributes{}, fmt.Errorf("%w: pmin=%q", ErrBadAttributes, value)
			}
			a.MinPeriod = time.Duration(n) * time.Second
		case "pmax":
			n, err := strconv.ParseInt(value, 10, 32)
			if err != nil || n < 0 {
				return Attributes{}, fmt.Errorf("%w: pmax=%q", ErrBadAttributes, value)
			}
			a.MaxPeriod = time.Duration(n) * time.Second
		case "lt":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Attributes{}, fmt.Errorf("%w: lt=%q", ErrBadAttributes, value)
			}
			a.Less, a.HasLess = f, true
		case "gt":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Attributes{}, fmt.Errorf("%w: gt=%q", ErrBadAttributes, value)
			}
			a.Greater, a.HasGreater = f, true
		case "st":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Attributes{}, fmt.Errorf("%w: st=%q", ErrBadAttributes, value)
			}
			a.Step, a.HasStep = f, true
		}
	}
	return a, nil
}

func cut(q string) (key, value string, found bool) {
	for i := 0; i < len(q); i++ {
		if q[i] == '=' {
			return q[:i], q[i+1:], true
		}
	}
	return q, "", false
}

// Decision is the outcome of evaluating a value change.
type Decision uint8

const (
	// Skip means the change does not warrant a notification.
	Skip Decision = iota

	// Send means a notification goes out now.
	Send

	// Defer means the change is due but pmin has not yet elapsed; the
	// caller re-evaluates when the min-period timer fires.
	Defer
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Skip:
		return "SKIP"
	case Send:
		return "SEND"
	case Defer:
		return "DEFER"
	default:
		return "UNKNOWN"
	}
}

// Observation is the state of one observed node.
type Observation struct {
	mu sync.Mutex

	path  model.Path
	token []byte
	attrs Attributes

	active   bool
	counter  uint32
	lastSent time.Time

	// Snapshot of the value as of the last notification (or the priming
	// response). Nil until something was sent.
	lastValue any

	// pending marks a change deferred by pmin.
	pending bool
}

// NewObservation starts an observation for path with the given token.
func NewObservation(path model.Path, token []byte, attrs Attributes) (*Observation, error) {
	if len(token) < 1 || len(token) > 8 {
		return nil, ErrInvalidToken
	}
	return &Observation{
		path:   path,
		token:  append([]byte(nil), token...),
		attrs:  attrs,
		active: true,
	}, nil
}

// Path returns the observed path.
func (o *Observation) Path() model.Path { return o.path }

// Token returns the observation token.
func (o *Observation) Token() []byte { return o.token }

// Attributes returns the notification attributes.
func (o *Observation) Attributes() Attributes {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attrs
}

// SetAttributes replaces the notification attributes.
func (o *Observation) SetAttributes(a Attributes) {
	o.mu.Lock()
	o.attrs = a
	o.mu.Unlock()
}

// Active reports whether the observation is live.
func (o *Observation) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Cancel deactivates the observation.
func (o *Observation) Cancel() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
}

// Counter returns the current counter without advancing it.
func (o *Observation) Counter() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter
}

// NextCounter returns the counter to put on the next notification and
// advances it. The counter wraps at 2^24.
func (o *Observation) NextCounter() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	c := o.counter
	o.counter = (o.counter + 1) % counterModulus
	return c
}

// Evaluate decides whether a new value triggers a notification at time now.
// changed reports whether the underlying value actually changed; for
// object-level observations it reflects the changed-instance hint.
func (o *Observation) Evaluate(value any, changed bool, now time.Time) Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active {
		return Skip
	}

	// Max period forces a send regardless of change.
	maxDue := o.attrs.MaxPeriod > 0 && !o.lastSent.IsZero() && now.Sub(o.lastSent) >= o.attrs.MaxPeriod

	if !changed && !maxDue {
		return Skip
	}

	if changed && !o.passesThresholds(value) && !maxDue {
		return Skip
	}

	if o.attrs.MinPeriod > 0 && !o.lastSent.IsZero() && now.Sub(o.lastSent) < o.attrs.MinPeriod {
		o.pending = true
		return Defer
	}
	return Send
}

// passesThresholds applies lt/gt/st against the last-sent snapshot.
// Non-numeric values and unset thresholds pass.
func (o *Observation) passesThresholds(value any) bool {
	if !o.attrs.HasLess && !o.attrs.HasGreater && !o.attrs.HasStep {
		return true
	}
	now, ok := model.Numeric(value)
	if !ok {
		return true
	}
	prev, havePrev := model.Numeric(o.lastValue)

	if o.attrs.HasStep {
		if !havePrev {
			return true
		}
		diff := now - prev
		if diff < 0 {
			diff = -diff
		}
		if diff >= o.attrs.Step {
			return true
		}
	}
	if o.attrs.HasLess {
		if !havePrev && now < o.attrs.Less {
			return true
		}
		if havePrev && prev >= o.attrs.Less && now < o.attrs.Less {
			return true
		}
	}
	if o.attrs.HasGreater {
		if !havePrev && now > o.attrs.Greater {
			return true
		}
		if havePrev && prev <= o.attrs.Greater && now > o.attrs.Greater {
			return true
		}
	}
	return false
}

// MarkSent records a notification with the value it carried.
func (o *Observation) MarkSent(value any, now time.Time) {
	o.mu.Lock()
	o.lastValue = value
	o.lastSent = now
	o.pending = false
	o.mu.Unlock()
}

// Pending reports whether a deferred change awaits the min-period timer.
func (o *Observation) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// LastSent returns when the last notification went out.
func (o *Observation) LastSent() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSent
}
