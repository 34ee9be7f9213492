package job

import "sync"

// Registry tracks live jobs so a new-block notification can invalidate all
// outstanding work at once. Jobs leave the registry when destroyed.
type Registry struct {
	mu   sync.Mutex
	jobs map[*Job]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[*Job]struct{})}
}

// Add registers a live job.
func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	r.jobs[j] = struct{}{}
	r.mu.Unlock()
}

// Remove drops a job from the registry. Removing an absent job is a no-op.
func (r *Registry) Remove(j *Job) {
	r.mu.Lock()
	delete(r.jobs, j)
	r.mu.Unlock()
}

// Len reports the number of live jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// CancelAll marks every live job canceled and invokes notify for each, then
// returns how many were canceled. notify runs outside the registry lock so
// it may call back into workers.
func (r *Registry) CancelAll(notify func(*Job)) int {
	r.mu.Lock()
	snapshot := make([]*Job, 0, len(r.jobs))
	for j := range r.jobs {
		snapshot = append(snapshot, j)
	}
	r.mu.Unlock()

	for _, j := range snapshot {
		j.MarkCanceled()
		if notify != nil {
			notify(j)
		}
	}
	return len(snapshot)
}
