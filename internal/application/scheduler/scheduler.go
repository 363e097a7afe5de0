package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/calltracker/internal/application/tracker"
)

// Nombres de los jobs periódicos.
const (
	JobEvaluate      = "evaluate"
	JobCompleteStale = "complete-stale"
	JobBackfill      = "backfill"
	JobFlushCache    = "flush-cache"
)

// Job es una tarea periódica. Spec usa el formato de cron con segundos.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Recorder registra la duración y el resultado de cada ejecución.
type Recorder interface {
	RecordJob(job string, elapsed time.Duration, err error)
}

// Scheduler ejecuta los jobs con robfig/cron. Una ejecución que se solapa con
// la anterior del mismo job se salta.
type Scheduler struct {
	ctx      context.Context
	cron     *cron.Cron
	recorder Recorder
	jobs     map[string]Job
}

// New crea un scheduler. recorder puede ser nil.
func New(ctx context.Context, recorder Recorder) *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		recorder: recorder,
		jobs:     make(map[string]Job),
	}
}

// Register agrega jobs. Los jobs con Spec vacío quedan deshabilitados pero
// siguen disponibles para RunNow.
func (s *Scheduler) Register(jobs ...Job) error {
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return fmt.Errorf("scheduler.Register: job %q incomplete", j.Name)
		}
		if _, dup := s.jobs[j.Name]; dup {
			return fmt.Errorf("scheduler.Register: duplicate job %q", j.Name)
		}
		s.jobs[j.Name] = j
		if j.Spec == "" {
			slog.Info("scheduler: job disabled", "job", j.Name)
			continue
		}
		job := j
		if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.run(s.ctx, job) }); err != nil {
			return fmt.Errorf("scheduler.Register: %s: %w", job.Name, err)
		}
		slog.Info("scheduler: job registered", "job", job.Name, "spec", job.Spec)
	}
	return nil
}

// RunNow ejecuta un job de inmediato, en el goroutine del llamador.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("scheduler.RunNow: unknown job %q", name)
	}
	return s.run(ctx, j)
}

// Jobs devuelve los nombres registrados, ordenados.
func (s *Scheduler) Jobs() []string {
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start arranca el cron en background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler: started", "jobs", len(s.cron.Entries()))
}

// Stop detiene el cron y espera a que terminen los jobs en curso.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler: stopped")
}

func (s *Scheduler) run(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(ctx)
	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordJob(j.Name, elapsed, err)
	}
	if err != nil {
		slog.Error("scheduler: job failed", "job", j.Name, "elapsed", elapsed, "err", err)
		return err
	}
	slog.Debug("scheduler: job done", "job", j.Name, "elapsed", elapsed)
	return nil
}

// Specs son las expresiones cron de los jobs del tracker. Vacío = deshabilitado.
type Specs struct {
	Evaluate      string
	CompleteStale string
	Backfill      string
	FlushCache    string
}

// Lifecycle es lo que los jobs necesitan del tracker.
type Lifecycle interface {
	EvaluateDue(ctx context.Context) (tracker.CycleStats, error)
	CompleteStale(ctx context.Context) (int, error)
	Reconcile(ctx context.Context, correct bool) (tracker.ReconcileStats, error)
}

// Flusher vacía la caché de ventanas al backend.
type Flusher interface {
	Flush(ctx context.Context) error
}

// TrackerJobs arma los jobs estándar. El back-fill programado nunca corrige datos.
func TrackerJobs(specs Specs, lc Lifecycle, cache Flusher) []Job {
	return []Job{
		{Name: JobEvaluate, Spec: specs.Evaluate, Run: func(ctx context.Context) error {
			_, err := lc.EvaluateDue(ctx)
			return err
		}},
		{Name: JobCompleteStale, Spec: specs.CompleteStale, Run: func(ctx context.Context) error {
			_, err := lc.CompleteStale(ctx)
			return err
		}},
		{Name: JobBackfill, Spec: specs.Backfill, Run: func(ctx context.Context) error {
			_, err := lc.Reconcile(ctx, false)
			return err
		}},
		{Name: JobFlushCache, Spec: specs.FlushCache, Run: cache.Flush},
	}
}

// cronLogger adapta cron.Logger a slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
