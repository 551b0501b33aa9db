package capture

import (
	"sort"
	"sync"

	"latencyflow/models"
)

// Registry tracks sessions for status reporting. Completed sessions stay
// listed so the status endpoint shows what was captured this run.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]models.SessionMeta
	finished []models.SessionMeta
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]models.SessionMeta)}
}

func (r *Registry) Add(meta models.SessionMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[meta.ID] = meta
}

func (r *Registry) Done(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.active[id]
	if !ok {
		return
	}
	delete(r.active, id)
	r.finished = append(r.finished, meta)
}

// Active returns running sessions ordered by start time.
func (r *Registry) Active() []models.SessionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SessionMeta, 0, len(r.active))
	for _, meta := range r.active {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Finished returns completed sessions in completion order.
func (r *Registry) Finished() []models.SessionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SessionMeta, len(r.finished))
	copy(out, r.finished)
	return out
}
