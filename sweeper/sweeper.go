// Package sweeper periodically clears transient upload artifacts from a
// temp directory. Every failure is contained inside the pass: a missing
// directory is a no-op, a listing failure is logged and the pass ends, and a
// failed removal is tolerated while the remaining entries are still tried.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DirPolicy decides what a pass does with entries that are directories.
type DirPolicy int

const (
	// DirPolicyRemove removes subdirectories together with their contents.
	DirPolicyRemove DirPolicy = iota
	// DirPolicySkip leaves subdirectories in place.
	DirPolicySkip
)

func (p DirPolicy) String() string {
	if p == DirPolicySkip {
		return "skip"
	}
	return "remove"
}

// ParseDirPolicy maps "remove" (or "") and "skip" to a DirPolicy.
func ParseDirPolicy(s string) (DirPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "remove":
		return DirPolicyRemove, nil
	case "skip":
		return DirPolicySkip, nil
	default:
		return DirPolicyRemove, fmt.Errorf("unknown directory policy %q", s)
	}
}

// Pass results, also used as the metrics label.
const (
	ResultOK        = "ok"
	ResultPartial   = "partial"
	ResultMissing   = "missing"
	ResultListError = "list_error"
	ResultSkipped   = "skipped"
	ResultCanceled  = "canceled"
)

var (
	ErrNoDir          = errors.New("sweeper: target directory is required")
	ErrAlreadyStarted = errors.New("sweeper: already started")
)

// EntryError is a removal that failed during a pass.
type EntryError struct {
	Name string
	Err  error
}

func (e EntryError) Error() string { return e.Name + ": " + e.Err.Error() }

func (e EntryError) Unwrap() error { return e.Err }

// Report describes one pass. Passes have no return value for callers that
// only care about side effects; the report exists for logs, metrics and tests.
type Report struct {
	Dir       string        `json:"dir"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Missing   bool          `json:"missing,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
	Canceled  bool          `json:"canceled,omitempty"`
	ListErr   error         `json:"-"`
	Listed    int           `json:"listed"`
	Removed   int           `json:"removed"`
	Kept      int           `json:"kept"`
	Deferred  int           `json:"deferred"`
	Failed    []EntryError  `json:"-"`
}

// Result classifies the pass.
func (r Report) Result() string {
	switch {
	case r.Skipped:
		return ResultSkipped
	case r.Missing:
		return ResultMissing
	case r.ListErr != nil:
		return ResultListError
	case r.Canceled:
		return ResultCanceled
	case len(r.Failed) > 0:
		return ResultPartial
	default:
		return ResultOK
	}
}

// Options configures a Sweeper. Only Dir is required.
type Options struct {
	// Dir is the sweep target. It is fixed for the lifetime of the Sweeper
	// and does not need to exist.
	Dir string
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly" or "@every 10m". Only Start needs it.
	Schedule  string
	DirPolicy DirPolicy
	// MaxEntries caps the removals attempted in one pass; 0 means no cap.
	// Entries beyond the cap are left for a later pass.
	MaxEntries int
	// MinAge protects entries modified less than MinAge ago; 0 sweeps everything.
	MinAge time.Duration

	FS      FS
	Locker  Locker
	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Sweeper owns the schedule and the state of the running pass.
type Sweeper struct {
	dir        string
	schedule   string
	policy     DirPolicy
	maxEntries int
	minAge     time.Duration
	fs         FS
	locker     Locker
	log        *zap.Logger
	metrics    *Metrics
	now        func() time.Time

	// held for the duration of a pass
	running sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	last atomic.Pointer[Report]
}

// New validates opts and returns an idle Sweeper.
func New(opts Options) (*Sweeper, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, ErrNoDir
	}
	s := &Sweeper{
		dir:        filepath.Clean(opts.Dir),
		schedule:   opts.Schedule,
		policy:     opts.DirPolicy,
		maxEntries: opts.MaxEntries,
		minAge:     opts.MinAge,
		fs:         opts.FS,
		locker:     opts.Locker,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if s.fs == nil {
		s.fs = OSFS{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Dir returns the sweep target.
func (s *Sweeper) Dir() string { return s.dir }

// Last returns the report of the most recent pass, if any.
func (s *Sweeper) Last() (Report, bool) {
	r := s.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Start registers the recurring pass and returns immediately. Passes run on
// the scheduler's goroutine, never on the caller's.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	sched, err := cron.ParseStandard(s.schedule)
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log})))
	c.Schedule(sched, cron.FuncJob(func() { s.SweepOnce(ctx) }))
	c.Start()
	s.cron, s.cancel = c, cancel

	s.log.Info("sweeper started",
		zap.String("dir", s.dir),
		zap.String("schedule", s.schedule),
		zap.Stringer("dir_policy", s.policy),
		zap.Time("next", sched.Next(s.now())),
	)
	return nil
}

// Stop cancels the schedule and waits for a running pass to wind down or for
// ctx to expire. A running pass stops between entries.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("sweeper stopped", zap.String("dir", s.dir))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOnce runs a single pass. It never panics on filesystem errors and
// never returns one; everything that went wrong is in the Report.
func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	start := s.now()
	rep := Report{Dir: s.dir, StartedAt: start}

	if !s.running.TryLock() {
		rep.Skipped = true
		s.log.Warn("sweep pass skipped, previous pass still running", zap.String("dir", s.dir))
		s.metrics.observe(rep)
		return rep
	}
	defer s.running.Unlock()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx)
		switch {
		case err != nil:
			// fail open: the local guard still prevents overlap in this process
			s.log.Warn("sweep lock unavailable, continuing", zap.String("dir", s.dir), zap.Error(err))
		case !ok:
			rep.Skipped = true
			s.log.Info("sweep pass skipped, held by another instance", zap.String("dir", s.dir))
			s.metrics.observe(rep)
			return rep
		default:
			defer unlock()
		}
	}

	s.pass(ctx, &rep)
	rep.Duration = s.now().Sub(start)
	s.record(rep)
	return rep
}

func (s *Sweeper) pass(ctx context.Context, rep *Report) {
	ok, err := s.exists()
	if err != nil {
		rep.ListErr = err
		return
	}
	if !ok {
		rep.Missing = true
		return
	}

	entries, err := s.list()
	if err != nil {
		rep.ListErr = err
		return
	}
	rep.Listed = len(entries)

	attempts := 0
	for i, e := range entries {
		if ctx.Err() != nil {
			rep.Canceled = true
			rep.Deferred += len(entries) - i
			return
		}
		if s.maxEntries > 0 && attempts >= s.maxEntries {
			rep.Deferred += len(entries) - i
			return
		}

		removed, tried, err := s.remove(e)
		if tried {
			attempts++
		}
		switch {
		case err != nil:
			rep.Failed = append(rep.Failed, EntryError{Name: e.Name(), Err: err})
			s.log.Debug("sweep entry not removed", zap.String("dir", s.dir), zap.String("entry", e.Name()), zap.Error(err))
		case removed:
			rep.Removed++
		default:
			rep.Kept++
		}
	}
}

func (s *Sweeper) exists() (bool, error) {
	info, err := s.fs.Stat(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is not a directory", s.dir)
	}
	return true, nil
}

func (s *Sweeper) list() ([]fs.DirEntry, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.dir, err)
	}
	return entries, nil
}

// remove applies the policy to one entry. tried reports whether a removal was
// attempted, removed whether it succeeded.
func (s *Sweeper) remove(e fs.DirEntry) (removed, tried bool, err error) {
	if e.IsDir() && s.policy == DirPolicySkip {
		return false, false, nil
	}
	if s.minAge > 0 {
		info, err := e.Info()
		if err != nil {
			return false, false, err
		}
		if s.now().Sub(info.ModTime()) < s.minAge {
			return false, false, nil
		}
	}

	path := filepath.Join(s.dir, e.Name())
	if e.IsDir() {
		err = s.fs.RemoveAll(path)
	} else {
		err = s.fs.Remove(path)
	}
	if err != nil {
		return false, true, err
	}
	return true, true, nil
}

func (s *Sweeper) record(rep Report) {
	s.last.Store(&rep)
	s.metrics.observe(rep)

	switch rep.Result() {
	case ResultMissing:
		s.log.Debug("sweep target missing, nothing to do", zap.String("dir", s.dir))
	case ResultListError:
		s.log.Error("sweep listing failed", zap.String("dir", s.dir), zap.Error(rep.ListErr))
	default:
		fields := []zap.Field{
			zap.String("dir", s.dir),
			zap.String("result", rep.Result()),
			zap.Int("listed", rep.Listed),
			zap.Int("removed", rep.Removed),
			zap.Int("kept", rep.Kept),
			zap.Int("failed", len(rep.Failed)),
			zap.Int("deferred", rep.Deferred),
			zap.Duration("took", rep.Duration),
		}
		if rep.Removed == 0 && len(rep.Failed) == 0 && rep.Deferred == 0 {
			s.log.Debug("sweep pass finished", fields...)
			return
		}
		s.log.Info("sweep pass finished", fields...)
	}
}

// cronLogger routes scheduler messages into zap.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
