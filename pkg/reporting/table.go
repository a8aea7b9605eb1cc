package reporting

import (
	"bytes"
	"sync"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
)

// Table indexes the active observations by path. Observation is
// token-scoped: starting a new observation for a path replaces the previous
// one, cancelling requires the matching token.
type Table struct {
	mu   sync.RWMutex
	byPath map[model.Path]*Observation
}

// NewTable creates an empty observation table.
func NewTable() *Table {
	return &Table{byPath: make(map[model.Path]*Observation)}
}

// Put registers obs, replacing any previous observation of the same path.
func (t *Table) Put(obs *Observation) {
	t.mu.Lock()
	if old, ok := t.byPath[obs.path]; ok {
		old.Cancel()
	}
	t.byPath[obs.path] = obs
	t.mu.Unlock()
}

// Get returns the observation for path.
func (t *Table) Get(path model.Path) (*Observation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obs, ok := t.byPath[path]
	return obs, ok
}

// Remove cancels and drops the observation for (path, token). It is a no-op
// when the token does not match the active observation.
func (t *Table) Remove(path model.Path, token []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	obs, ok := t.byPath[path]
	if !ok || !bytes.Equal(obs.token, token) {
		return false
	}
	obs.Cancel()
	delete(t.byPath, path)
	return true
}

// RemovePath drops the observation for path regardless of token, used when
// the node itself is deleted.
func (t *Table) RemovePath(path model.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if obs, ok := t.byPath[path]; ok {
		obs.Cancel()
		delete(t.byPath, path)
	}
}

// All returns the active observations.
func (t *Table) All() []*Observation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Observation, 0, len(t.byPath))
	for _, obs := range t.byPath {
		out = append(out, obs)
	}
	return out
}

// Covering returns the observations whose node contains the resource at
// path: the resource itself, its object instance and its object.
func (t *Table) Covering(path model.Path) []*Observation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Observation
	if path.Depth >= model.DepthResource {
		if obs, ok := t.byPath[path.ObjectOnly()]; ok {
			out = append(out, obs)
		}
		if obs, ok := t.byPath[path.InstanceOnly()]; ok {
			out = append(out, obs)
		}
		if obs, ok := t.byPath[model.ResourcePath(path.Object, path.Instance, path.Resource)]; ok {
			out = append(out, obs)
		}
		if path.Depth == model.DepthResourceInstance {
			if obs, ok := t.byPath[path]; ok {
				out = append(out, obs)
			}
		}
	} else {
		if obs, ok := t.byPath[path]; ok {
			out = append(out, obs)
		}
	}
	return out
}

// Clear cancels and drops every observation.
func (t *Table) Clear() {
	t.mu.Lock()
	for p, obs := range t.byPath {
		obs.Cancel()
		delete(t.byPath, p)
	}
	t.mu.Unlock()
}

// Count returns the number of active observations.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPath)
}
