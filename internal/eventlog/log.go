package eventlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

const defaultReplayInterval = 10 * time.Millisecond

// Config controls replay pacing and diagnostics.
type Config struct {
	// ReplayInterval is the pause between replayed history entries (default 10ms).
	ReplayInterval time.Duration
	// Logger mirrors appended lines at debug level.
	Logger *zap.Logger
	// Now overrides the timestamp source.
	Now func() time.Time
}

// Log stores every job's history and fans entries out to live subscribers.
type Log struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*stream
	nextSub uint64
}

type stream struct {
	history []Entry
	subs    map[uint64]*subscriber
	ended   bool
}

// New constructs an empty Log.
func New(cfg Config) *Log {
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = defaultReplayInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[string]*stream),
	}
}

// Append adds a line to the job's history and forwards it to live subscribers.
// An untagged Sentinel ends the stream like End. Tagged text is always stored
// as an ordinary line, so model output that happens to read "[END]" cannot close
// the stream. Appends after the end are dropped.
func (l *Log) Append(jobID string, tag cloner.LogTag, text string) {
	if tag == "" && text == Sentinel {
		l.End(jobID)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.streamLocked(jobID)
	if st.ended {
		l.logger.Debug("dropping line appended after end", zap.String("job_id", jobID))
		return
	}
	l.appendLocked(st, Entry{Tag: tag, Text: text})
	l.logger.Debug("job log", zap.String("job_id", jobID), zap.String("tag", string(tag)), zap.String("text", text))
}

// End appends the Sentinel once. Later calls are no-ops.
func (l *Log) End(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.streamLocked(jobID)
	if st.ended {
		return
	}
	l.appendLocked(st, Entry{Text: Sentinel})
	st.ended = true
}

func (l *Log) appendLocked(st *stream, e Entry) {
	e.Seq = len(st.history) + 1
	e.At = l.cfg.Now()
	st.history = append(st.history, e)
	for _, sub := range st.subs {
		sub.push(e)
	}
}

func (l *Log) streamLocked(jobID string) *stream {
	st, ok := l.streams[jobID]
	if !ok {
		st = &stream{subs: make(map[uint64]*subscriber)}
		l.streams[jobID] = st
	}
	return st
}

// Subscribe returns a channel that yields the job's full history followed by
// live entries. The channel closes after the Sentinel is delivered or when ctx
// ends; in the latter case the subscriber is deregistered.
func (l *Log) Subscribe(ctx context.Context, jobID string) <-chan Entry {
	out := make(chan Entry)

	l.mu.Lock()
	st := l.streamLocked(jobID)
	snapshot := append([]Entry(nil), st.history...)
	l.nextSub++
	id := l.nextSub
	sub := newSubscriber()
	if !st.ended {
		st.subs[id] = sub
	}
	l.mu.Unlock()

	go func() {
		defer close(out)
		defer l.unsubscribe(jobID, id)
		for i, e := range snapshot {
			if i > 0 && !sleepCtx(ctx, l.cfg.ReplayInterval) {
				return
			}
			if !send(ctx, out, e) || e.IsEnd() {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
			}
			for _, e := range sub.drain() {
				if !send(ctx, out, e) || e.IsEnd() {
					return
				}
			}
		}
	}()
	return out
}

func (l *Log) unsubscribe(jobID string, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.streams[jobID]; ok {
		delete(st.subs, id)
	}
}

// History returns a copy of the job's entries.
func (l *Log) History(jobID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.streams[jobID]
	if !ok {
		return nil
	}
	return append([]Entry(nil), st.history...)
}

// Lines returns the job's history rendered with tag prefixes.
func (l *Log) Lines(jobID string) []string {
	history := l.History(jobID)
	lines := make([]string, len(history))
	for i, e := range history {
		lines[i] = e.Line()
	}
	return lines
}

// Subscribers reports the number of live subscribers attached to the job.
func (l *Log) Subscribers(jobID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.streams[jobID]; ok {
		return len(st.subs)
	}
	return 0
}

// Cleanup purges the job's history. Live subscribers receive the Sentinel so
// they can close cleanly.
func (l *Log) Cleanup(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.streams[jobID]
	if !ok {
		return
	}
	if !st.ended {
		end := Entry{Seq: len(st.history) + 1, Text: Sentinel, At: l.cfg.Now()}
		for _, sub := range st.subs {
			sub.push(end)
		}
	}
	delete(l.streams, jobID)
}

// For returns the event-log-backed ProgressLogger for a job.
func (l *Log) For(jobID string) *JobLogger {
	return &JobLogger{log: l, jobID: jobID}
}

// JobLogger appends to a single job's history.
type JobLogger struct {
	log   *Log
	jobID string
}

// Log implements cloner.ProgressLogger.
func (j *JobLogger) Log(tag cloner.LogTag, text string) {
	j.log.Append(j.jobID, tag, text)
}

// End terminates the job's stream.
func (j *JobLogger) End() {
	j.log.End(j.jobID)
}

type subscriber struct {
	mu      sync.Mutex
	pending []Entry
	notify  chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{notify: make(chan struct{}, 1)}
}

func (s *subscriber) push(e Entry) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func send(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
