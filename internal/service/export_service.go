package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"modprogress/internal/domain"
	"modprogress/internal/progress"
)

// ─────────────────────────────────────────────────────────────
// Export Service: business logic for progress export runs
// ─────────────────────────────────────────────────────────────

// ErrExportRunning is returned when an export is already in flight.
var ErrExportRunning = errors.New("an export is already running")

// Trigger names recorded on each run.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerFileWatch = "file_watch"
	TriggerMCP       = "mcp"
)

const (
	exportKey      = "export"
	watchDebounce  = 500 * time.Millisecond
	defaultHistory = 20
)

// Runner executes one export. *progress.Engine implements it.
type Runner interface {
	Run(ctx context.Context, runID string, courseIDs []string) (*progress.RunResult, error)
}

// CourseLister returns the course ids to export when a run names none.
type CourseLister func(ctx context.Context) ([]string, error)

// ExportConfig holds the scheduling knobs of the service.
type ExportConfig struct {
	// Source is the registered source type recorded on each run.
	Source string
	// Cron is a robfig/cron expression; empty disables scheduling.
	Cron string
	// WatchPath re-runs the export when the file changes; empty disables it.
	WatchPath string
	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
}

// ExportService runs exports, records their history and schedules them.
type ExportService struct {
	store   domain.RunLogStore
	runner  Runner
	courses CourseLister
	emitter EventEmitter
	logger  *zap.Logger
	cfg     ExportConfig

	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewExportService creates an ExportService ready for use.
func NewExportService(
	store domain.RunLogStore,
	runner Runner,
	courses CourseLister,
	emitter EventEmitter,
	logger *zap.Logger,
	cfg ExportConfig,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = LogEmitter{Logger: logger}
	}
	return &ExportService{
		store:   store,
		runner:  runner,
		courses: courses,
		emitter: emitter,
		logger:  logger,
		cfg:     cfg,
	}
}

// ── Run ────────────────────────────────────────────────────

// RunExport executes one export synchronously. When courseIDs is empty the
// CourseLister supplies them. The returned log is non-nil whenever the run
// was recorded, including failed runs.
func (s *ExportService) RunExport(ctx context.Context, trigger string, courseIDs []string) (*domain.RunLog, error) {
	if !s.runningJobs.TryLock(exportKey) {
		return nil, ErrExportRunning
	}
	defer s.runningJobs.Unlock(exportKey)

	if trigger == "" {
		trigger = TriggerManual
	}
	runLog := &domain.RunLog{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Source:    s.cfg.Source,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	log := s.logger.With(zap.String("run_id", runLog.ID), zap.String("trigger", trigger))

	var err error
	if len(courseIDs) == 0 && s.courses != nil {
		courseIDs, err = s.courses(ctx)
		if err != nil {
			err = fmt.Errorf("list courses: %w", err)
		}
	}
	runLog.CoursesTotal = len(courseIDs)

	if perr := s.store.CreateRun(runLog); perr != nil {
		return nil, fmt.Errorf("record run: %w", perr)
	}
	s.emitter.Emit(ctx, EventExportStarted, map[string]any{
		"runId":   runLog.ID,
		"trigger": trigger,
		"courses": runLog.CoursesTotal,
	})

	var result *progress.RunResult
	if err == nil {
		runCtx := ctx
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		result, err = s.runner.Run(runCtx, runLog.ID, courseIDs)
	}

	if result != nil {
		for i, c := range result.Courses {
			entry := &domain.CourseLog{
				RunID:      runLog.ID,
				Position:   i,
				CourseID:   c.CourseID,
				CourseName: c.CourseName,
				Status:     string(c.Status),
				Message:    c.Message,
				Rows:       c.Rows,
			}
			if perr := s.store.AddCourseResult(entry); perr != nil {
				log.Warn("record course result failed", zap.String("course_id", c.CourseID), zap.Error(perr))
			}
			s.emitter.Emit(ctx, EventExportCourse, entry)
		}
		runLog.CoursesSucceeded = result.Succeeded()
		runLog.CoursesFailed = result.Failed()
		runLog.RowsExported = result.RowsExported
	}
	runLog.Status = runStatus(runLog, err)
	if err != nil {
		runLog.Error = err.Error()
	}
	runLog.FinishedAt = time.Now()
	if perr := s.store.FinishRun(runLog); perr != nil {
		log.Warn("record run result failed", zap.Error(perr))
	}

	s.emitter.Emit(ctx, EventExportCompleted, runLog)
	if err != nil {
		log.Error("export failed", zap.Error(err))
	} else {
		log.Info("export completed",
			zap.String("status", string(runLog.Status)),
			zap.Int("succeeded", runLog.CoursesSucceeded),
			zap.Int("failed", runLog.CoursesFailed))
	}
	return runLog, err
}

func runStatus(r *domain.RunLog, err error) domain.RunStatus {
	switch {
	case err != nil:
		return domain.RunStatusError
	case r.CoursesFailed > 0 && r.CoursesSucceeded == 0:
		return domain.RunStatusFailed
	case r.CoursesFailed > 0:
		return domain.RunStatusPartial
	default:
		return domain.RunStatusSuccess
	}
}

// Running reports whether an export is in flight.
func (s *ExportService) Running() bool {
	return s.runningJobs.Running(exportKey)
}

// ── History ────────────────────────────────────────────────

// RunDetail is a run together with its per-course results.
type RunDetail struct {
	Run     *domain.RunLog     `json:"run"`
	Courses []domain.CourseLog `json:"courses"`
}

// History returns the latest runs, newest first. limit <= 0 means 20.
func (s *ExportService) History(limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = defaultHistory
	}
	return s.store.ListRuns(limit)
}

// RunDetail loads one run and its course results.
func (s *ExportService) RunDetail(id string) (*RunDetail, error) {
	run, err := s.store.GetRun(id)
	if err != nil {
		return nil, err
	}
	courses, err := s.store.ListCourseResults(id)
	if err != nil {
		return nil, fmt.Errorf("list course results: %w", err)
	}
	return &RunDetail{Run: run, Courses: courses}, nil
}

// ── Watchers (cron + file_watch) ──────────────────────────

// Start installs the cron schedule and the file watcher configured in
// ExportConfig. Calling Start again replaces both.
func (s *ExportService) Start(ctx context.Context) error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Cron != "" {
		c := cron.New()
		_, err := c.AddFunc(s.cfg.Cron, func() {
			s.logger.Info("export cron: starting run")
			if _, err := s.RunExport(ctx, TriggerSchedule, nil); err != nil {
				s.logger.Warn("export cron: run failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.cfg.Cron, err)
		}
		c.Start()
		s.cronSched = c
		s.logger.Info("export cron: scheduled", zap.String("expr", s.cfg.Cron))
	}

	if s.cfg.WatchPath == "" {
		return nil
	}
	absPath, err := filepath.Abs(s.cfg.WatchPath)
	if err != nil {
		s.stopLocked()
		return fmt.Errorf("watch path %q: %w", s.cfg.WatchPath, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.stopLocked()
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		s.stopLocked()
		return fmt.Errorf("watch dir %q: %w", filepath.Dir(absPath), err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	done := make(chan struct{})
	s.watchDone = done
	go s.watchLoop(ctx, watchCtx, watcher, absPath, done)
	s.logger.Info("export watcher: watching", zap.String("path", absPath))
	return nil
}

func (s *ExportService) watchLoop(ctx, watchCtx context.Context, watcher *fsnotify.Watcher, absPath string, done chan struct{}) {
	defer close(done)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if p, _ := filepath.Abs(event.Name); p != absPath {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				s.logger.Info("export watcher: file changed", zap.String("path", absPath))
				if _, err := s.RunExport(ctx, TriggerFileWatch, nil); err != nil {
					s.logger.Warn("export watcher: run failed", zap.Error(err))
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("export watcher: error", zap.Error(err))
		}
	}
}

// WaitRunning blocks until the running export finishes or ctx is cancelled.
// Used for graceful shutdown.
func (s *ExportService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down the watcher and the scheduler. It is safe to call twice.
func (s *ExportService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *ExportService) stopLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.watchDone != nil {
		<-s.watchDone
		s.watchDone = nil
	}
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
		s.cronSched = nil
	}
}
