package worker

import "sync"

// Status codes returned by Action.Run.
const (
	StatusSuccess = 0
	StatusFailure = 1
)

// Reporter receives progress and messages from a running action.
// Calls never block on the consumer.
type Reporter interface {
	Message(text string)
	Progress(percent int)
}

// Action runs one device family's protocol step for a job.
//
// An action is registered once and shared by every job with its id. Any
// per-run state it holds must be reset at the start of Run.
type Action interface {
	ID() string
	Name() string
	Run(job *Job, report Reporter) int
}

// Registry maps action ids to their handlers.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds actions, replacing any handler already registered under the same id.
func (r *Registry) Register(actions ...Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		r.actions[a.ID()] = a
	}
}

// Lookup returns the action registered for id.
func (r *Registry) Lookup(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	return a, ok
}

// IDs returns the registered action ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	return ids
}
