// Package task runs asynchronous work that writes its result back to one
// document, keyed by document id and kind, with explicit cancellation.
package task

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrCancelled is the Err of a task that was cancelled or superseded before
// it finished.
var ErrCancelled = errors.New("task cancelled")

// Kind names the type of work, e.g. "generate-document".
type Kind string

// Commit applies a write on behalf of a task. apply runs only if the task is
// still live, and no Cancel can interleave with it. Reports whether apply ran.
type Commit func(apply func()) bool

// Func is the body of a task. It must route every store write through commit.
type Func func(ctx context.Context, commit Commit) error

type key struct {
	docID string
	kind  Kind
}

// Task is a handle on one started task.
type Task struct {
	DocID string
	Kind  Kind

	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Registry.mu
	cancelled bool
	err       error
}

// Done is closed when the task body has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Registry tracks live tasks. At most one task per (document, kind) is live;
// starting another cancels the previous one.
type Registry struct {
	mu       sync.Mutex
	tasks    map[key]*Task
	observer Observer
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// Observer is told the number of live tasks of a kind whenever a task of
// that kind starts, finishes or is cancelled. It runs with the registry lock
// held, in the same order as the changes it reports, and must not call back
// into the Registry.
type Observer func(kind Kind, live int)

// NewRegistry creates a Registry running at most maxConcurrent task bodies
// at once. maxConcurrent <= 0 means 4.
func NewRegistry(maxConcurrent int, logger *zap.Logger) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tasks:  make(map[key]*Task),
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: logger,
	}
}

// Observe installs fn as the registry's observer, replacing any previous one.
func (r *Registry) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

func (r *Registry) notifyLocked(kind Kind) {
	if r.observer == nil {
		return
	}
	n := 0
	for k := range r.tasks {
		if k.kind == kind {
			n++
		}
	}
	r.observer(kind, n)
}

// Start runs fn in a new goroutine under a context derived from parent.
// A live task with the same document and kind is cancelled first.
func (r *Registry) Start(parent context.Context, docID string, kind Kind, fn Func) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{DocID: docID, Kind: kind, cancel: cancel, done: make(chan struct{})}
	k := key{docID, kind}

	r.mu.Lock()
	if prev, ok := r.tasks[k]; ok {
		r.cancelLocked(prev)
		r.logger.Debug("task superseded", zap.String("doc_id", docID), zap.String("kind", string(kind)))
	}
	r.tasks[k] = t
	r.notifyLocked(kind)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, t, k, fn)
	return t
}

func (r *Registry) run(ctx context.Context, t *Task, k key, fn Func) {
	defer r.wg.Done()

	var err error
	if err = r.sem.Acquire(ctx, 1); err == nil {
		err = fn(ctx, r.commitFor(t))
		r.sem.Release(1)
	}

	r.mu.Lock()
	if t.cancelled {
		err = ErrCancelled
	}
	t.err = err
	if r.tasks[k] == t {
		delete(r.tasks, k)
		r.notifyLocked(k.kind)
	}
	r.mu.Unlock()

	t.cancel()
	close(t.done)

	if err != nil && !errors.Is(err, ErrCancelled) {
		r.logger.Warn("task failed",
			zap.String("doc_id", t.DocID),
			zap.String("kind", string(t.Kind)),
			zap.Error(err),
		)
	}
}

func (r *Registry) commitFor(t *Task) Commit {
	return func(apply func()) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if t.cancelled {
			r.logger.Debug("dropping result of cancelled task",
				zap.String("doc_id", t.DocID),
				zap.String("kind", string(t.Kind)),
			)
			return false
		}
		apply()
		return true
	}
}

// Cancel cancels every live task of the document. When Cancel returns, none
// of them will commit again.
func (r *Registry) Cancel(docID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []Kind
	for k, t := range r.tasks {
		if k.docID == docID {
			r.cancelLocked(t)
			delete(r.tasks, k)
			kinds = append(kinds, k.kind)
		}
	}
	for _, kind := range kinds {
		r.notifyLocked(kind)
	}
	n := len(kinds)
	if n > 0 {
		r.logger.Debug("cancelled document tasks", zap.String("doc_id", docID), zap.Int("tasks", n))
	}
	return n
}

// CancelAll cancels every live task.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make(map[Kind]struct{})
	for k, t := range r.tasks {
		r.cancelLocked(t)
		delete(r.tasks, k)
		kinds[k.kind] = struct{}{}
	}
	for kind := range kinds {
		r.notifyLocked(kind)
	}
}

func (r *Registry) cancelLocked(t *Task) {
	t.cancelled = true
	t.cancel()
}

// Active reports the kinds of the live tasks of the document.
func (r *Registry) Active(docID string) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []Kind
	for k := range r.tasks {
		if k.docID == docID {
			kinds = append(kinds, k.kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}

// Wait blocks until every started task has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
