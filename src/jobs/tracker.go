// Package jobs tracks restore jobs from submission to a terminal state and
// fans progress out to any number of subscribers.
package jobs

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapportal/src/backend"
)

// State of a restore job. Terminal states are absorbing.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

func rank(s State) int {
	switch s {
	case StateQueued:
		return 0
	case StateRunning:
		return 1
	case StateSucceeded, StateFailed, StateCancelled:
		return 2
	}
	return -1
}

// Event is one transport-sourced state or progress update for a job.
type Event struct {
	JobID    string
	State    State
	Progress float64 // percent, 0 when unknown
	Message  string
	Error    string // terminal failure detail
	Time     time.Time
}

// Result records the terminal outcome of a job.
type Result struct {
	Success bool
	Detail  string
}

// Job is the tracked restore job. Mutated only by the tracker.
type Job struct {
	ID          string
	Dataset     string
	Snapshot    string
	SourcePath  string
	Destination string
	State       State
	Progress    float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Result      *Result
}

// subscriberBuffer bounds each subscriber's event backlog. When it fills,
// the oldest buffered progress event is dropped; terminal events always get
// through.
const subscriberBuffer = 16

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) deliver(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Buffer full: drop the oldest event to make room. A slow
		// subscriber degrades only its own stream.
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

type tracked struct {
	job  Job
	subs map[int]*subscriber
}

// Tracker owns restore-job lifecycle. Jobs are retained for a grace period
// after reaching a terminal state, then collected.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*tracked
	retention time.Duration
	nextSub   int
	dropped   uint64
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewTracker creates a tracker with the given terminal retention grace.
func NewTracker(retention time.Duration, log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		jobs:      make(map[string]*tracked),
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Register creates tracking state for a newly submitted job. Registering an
// id twice is a no-op so transports can be naive about redelivery.
func (t *Tracker) Register(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; ok {
		return
	}
	if job.State == "" {
		job.State = StateQueued
	}
	now := t.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	t.jobs[job.ID] = &tracked{job: job, subs: make(map[int]*subscriber)}
	t.log.WithFields(logrus.Fields{"job": job.ID, "state": job.State}).Debug("job registered")
	if job.State.Terminal() {
		t.scheduleCollectLocked(job.ID)
	}
}

// Ingest applies a transport-sourced event. It never fails: events for
// unknown jobs, regressions, and events after a terminal state are dropped
// and counted.
func (t *Tracker) Ingest(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.jobs[ev.JobID]
	if !ok || rank(ev.State) < 0 {
		t.dropped++
		t.log.WithField("job", ev.JobID).Debug("dropping event for unknown job or state")
		return
	}
	cur := tr.job.State
	if cur.Terminal() || rank(ev.State) < rank(cur) {
		t.dropped++
		return
	}

	if ev.Time.IsZero() {
		ev.Time = t.now()
	}
	tr.job.State = ev.State
	tr.job.UpdatedAt = ev.Time
	if ev.Progress > 0 {
		tr.job.Progress = ev.Progress
	}
	if ev.State.Terminal() {
		tr.job.Result = &Result{Success: ev.State == StateSucceeded, Detail: terminalDetail(ev)}
		t.scheduleCollectLocked(ev.JobID)
	}
	for _, sub := range tr.subs {
		sub.deliver(ev)
	}
}

func terminalDetail(ev Event) string {
	if ev.Error != "" {
		return ev.Error
	}
	return ev.Message
}

// Get returns a copy of the tracked job.
func (t *Tracker) Get(jobID string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.jobs[jobID]
	if !ok {
		return Job{}, backend.JobNotFoundError(jobID)
	}
	return tr.job, nil
}

// Subscribe attaches to a job's event stream. The current state is replayed
// immediately so a late subscriber never misses the terminal outcome. The
// returned cancel func detaches and closes the stream.
func (t *Tracker) Subscribe(jobID string) (<-chan Event, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.jobs[jobID]
	if !ok {
		return nil, nil, backend.JobNotFoundError(jobID)
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	id := t.nextSub
	t.nextSub++
	tr.subs[id] = sub

	sub.deliver(Event{
		JobID:    jobID,
		State:    tr.job.State,
		Progress: tr.job.Progress,
		Error:    resultDetail(tr.job),
		Time:     tr.job.UpdatedAt,
	})

	cancel := func() {
		t.mu.Lock()
		if tr, ok := t.jobs[jobID]; ok {
			delete(tr.subs, id)
		}
		t.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

func resultDetail(job Job) string {
	if job.Result != nil && !job.Result.Success {
		return job.Result.Detail
	}
	return ""
}

// Dropped returns the count of ignored events.
func (t *Tracker) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *Tracker) scheduleCollectLocked(jobID string) {
	time.AfterFunc(t.retention, func() { t.collect(jobID) })
}

func (t *Tracker) collect(jobID string) {
	t.mu.Lock()
	tr, ok := t.jobs[jobID]
	if ok {
		delete(t.jobs, jobID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	for _, sub := range tr.subs {
		sub.close()
	}
	t.log.WithField("job", jobID).Debug("job collected")
}
