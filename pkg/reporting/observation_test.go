package reporting

import (
	"errors"
	"testing"
	"time"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newObs(t *testing.T, attrs Attributes) *Observation {
	t.Helper()
	obs, err := NewObservation(model.ResourcePath(42, 0, 1), []byte{0x9A}, attrs)
	if err != nil {
		t.Fatalf("NewObservation failed: %v", err)
	}
	return obs
}

func TestNewObservationTokenBounds(t *testing.T) {
	if _, err := NewObservation(model.ResourcePath(1, 0, 0), nil, Attributes{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token accepted: %v", err)
	}
	if _, err := NewObservation(model.ResourcePath(1, 0, 0), make([]byte, 9), Attributes{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("9-byte token accepted: %v", err)
	}
}

func TestCounterMonotonicWraps(t *testing.T) {
	obs := newObs(t, Attributes{})
	if obs.NextCounter() != 0 {
		t.Error("first counter != 0")
	}
	if obs.NextCounter() != 1 {
		t.Error("second counter != 1")
	}

	// Force the counter near the 24-bit boundary.
	for obs.Counter() != 1<<24-1 {
		obs.NextCounter()
	}
	if obs.NextCounter() != 1<<24-1 {
		t.Error("counter at modulus-1 not emitted")
	}
	if obs.Counter() != 0 {
		t.Errorf("counter did not wrap, now %d", obs.Counter())
	}
}

func TestEvaluatePlainChange(t *testing.T) {
	obs := newObs(t, Attributes{})
	obs.MarkSent("MyValue", t0)

	if d := obs.Evaluate("MyValue", false, t0.Add(time.Second)); d != Skip {
		t.Errorf("unchanged value = %v, want SKIP", d)
	}
	if d := obs.Evaluate("NewValue", true, t0.Add(time.Second)); d != Send {
		t.Errorf("changed value = %v, want SEND", d)
	}
}

func TestEvaluateMinPeriod(t *testing.T) {
	obs := newObs(t, Attributes{MinPeriod: 10 * time.Second})
	obs.MarkSent(int64(1), t0)

	if d := obs.Evaluate(int64(2), true, t0.Add(3*time.Second)); d != Defer {
		t.Errorf("change inside pmin = %v, want DEFER", d)
	}
	if !obs.Pending() {
		t.Error("deferred change not pending")
	}
	if d := obs.Evaluate(int64(2), true, t0.Add(11*time.Second)); d != Send {
		t.Errorf("change after pmin = %v, want SEND", d)
	}
}

func TestEvaluateMaxPeriodForcesSend(t *testing.T) {
	obs := newObs(t, Attributes{MaxPeriod: 30 * time.Second})
	obs.MarkSent(int64(1), t0)

	if d := obs.Evaluate(int64(1), false, t0.Add(29*time.Second)); d != Skip {
		t.Errorf("quiet inside pmax = %v, want SKIP", d)
	}
	if d := obs.Evaluate(int64(1), false, t0.Add(31*time.Second)); d != Send {
		t.Errorf("quiet past pmax = %v, want SEND", d)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	t.Run("step", func(t *testing.T) {
		obs := newObs(t, Attributes{Step: 5, HasStep: true})
		obs.MarkSent(int64(10), t0)
		if d := obs.Evaluate(int64(12), true, t0.Add(time.Second)); d != Skip {
			t.Errorf("delta 2 with st=5 = %v, want SKIP", d)
		}
		if d := obs.Evaluate(int64(16), true, t0.Add(time.Second)); d != Send {
			t.Errorf("delta 6 with st=5 = %v, want SEND", d)
		}
	})

	t.Run("less than crossing", func(t *testing.T) {
		obs := newObs(t, Attributes{Less: 5, HasLess: true})
		obs.MarkSent(int64(10), t0)
		if d := obs.Evaluate(int64(7), true, t0.Add(time.Second)); d != Skip {
			t.Errorf("no crossing = %v, want SKIP", d)
		}
		if d := obs.Evaluate(int64(3), true, t0.Add(time.Second)); d != Send {
			t.Errorf("crossed below lt = %v, want SEND", d)
		}
	})

	t.Run("greater than crossing", func(t *testing.T) {
		obs := newObs(t, Attributes{Greater: 20, HasGreater: true})
		obs.MarkSent(int64(10), t0)
		if d := obs.Evaluate(int64(25), true, t0.Add(time.Second)); d != Send {
			t.Errorf("crossed above gt = %v, want SEND", d)
		}
	})

	t.Run("non-numeric passes", func(t *testing.T) {
		obs := newObs(t, Attributes{Step: 5, HasStep: true})
		obs.MarkSent("a", t0)
		if d := obs.Evaluate("b", true, t0.Add(time.Second)); d != Send {
			t.Errorf("string with thresholds = %v, want SEND", d)
		}
	})
}

func TestCancelledObservationSkips(t *testing.T) {
	obs := newObs(t, Attributes{})
	obs.MarkSent(int64(1), t0)
	obs.Cancel()
	if d := obs.Evaluate(int64(2), true, t0.Add(time.Second)); d != Skip {
		t.Errorf("cancelled observation = %v, want SKIP", d)
	}
}

func TestParseAttributes(t *testing.T) {
	a, err := ParseAttributes([]string{"pmin=5", "pmax=60", "lt=1.5", "gt=20", "st=2"})
	if err != nil {
		t.Fatalf("ParseAttributes failed: %v", err)
	}
	if a.MinPeriod != 5*time.Second || a.MaxPeriod != 60*time.Second {
		t.Errorf("periods = %v/%v", a.MinPeriod, a.MaxPeriod)
	}
	if !a.HasLess || a.Less != 1.5 || !a.HasGreater || a.Greater != 20 || !a.HasStep || a.Step != 2 {
		t.Errorf("thresholds = %+v", a)
	}

	if _, err := ParseAttributes([]string{"pmin=x"}); !errors.Is(err, ErrBadAttributes) {
		t.Error("bad pmin accepted")
	}
	if _, err := ParseAttributes([]string{"ep=name", "obs"}); err != nil {
		t.Errorf("unknown params rejected: %v", err)
	}
}

func TestTableTokenScoped(t *testing.T) {
	table := NewTable()
	path := model.ResourcePath(42, 0, 1)
	obs, _ := NewObservation(path, []byte{0x9A}, Attributes{})
	table.Put(obs)

	if !table.Remove(path, []byte{0x9A}) {
		t.Error("Remove with matching token failed")
	}
	obs2, _ := NewObservation(path, []byte{0x9B}, Attributes{})
	table.Put(obs2)
	if table.Remove(path, []byte{0x9A}) {
		t.Error("Remove with stale token succeeded")
	}
	if table.Count() != 1 {
		t.Errorf("Count = %d, want 1", table.Count())
	}
}

func TestTableCovering(t *testing.T) {
	table := NewTable()
	objObs, _ := NewObservation(model.ObjectPath(42), []byte{1}, Attributes{})
	resObs, _ := NewObservation(model.ResourcePath(42, 0, 1), []byte{2}, Attributes{})
	table.Put(objObs)
	table.Put(resObs)

	got := table.Covering(model.ResourcePath(42, 0, 1))
	if len(got) != 2 {
		t.Fatalf("Covering returned %d observations, want 2", len(got))
	}

	if got := table.Covering(model.ResourcePath(42, 0, 2)); len(got) != 1 {
		t.Errorf("Covering other resource returned %d, want 1 (object)", len(got))
	}
}

func TestTablePutReplaces(t *testing.T) {
	table := NewTable()
	path := model.ResourcePath(3, 0, 13)
	first, _ := NewObservation(path, []byte{1}, Attributes{})
	table.Put(first)
	second, _ := NewObservation(path, []byte{2}, Attributes{})
	table.Put(second)

	if first.Active() {
		t.Error("replaced observation still active")
	}
	got, ok := table.Get(path)
	if !ok || got != second {
		t.Error("table does not hold the replacement")
	}
}
