// Package scheduler runs recurring prompts on cron expressions and delivers
// the replies to a configured chat. Jobs go through the same serial request
// queue as interactive messages, so a scheduled prompt never overlaps a
// user-initiated one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Config holds scheduler settings.
type Config struct {
	// Enabled turns the scheduler on.
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite file holding the jobs table.
	DBPath string `yaml:"db_path"`
}

// Job is one scheduled prompt.
type Job struct {
	// ID uniquely identifies the job.
	ID string

	// Schedule is a standard 5-field cron expression or a descriptor like
	// "@daily".
	Schedule string

	// Prompt is the text relayed to the assistant when the job fires.
	Prompt string

	// Channel and ChatID say where the reply goes.
	Channel string
	ChatID  string

	// Enabled jobs are scheduled; disabled ones are only stored.
	Enabled bool

	CreatedAt time.Time
	LastRunAt *time.Time
	LastError string
	RunCount  int
}

// Storage persists jobs across restarts.
type Storage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// RunFunc executes a job's prompt and delivers the reply. Implemented by the
// bot; errors are recorded on the job.
type RunFunc func(ctx context.Context, channel, chatID, prompt string) error

// Scheduler manages cron entries for persisted jobs.
type Scheduler struct {
	cron    *cron.Cron
	storage Storage
	run     RunFunc
	logger  *slog.Logger

	// entries maps job IDs to their cron entry for removal.
	entries map[string]cron.EntryID
	mu      sync.Mutex
}

// New creates a Scheduler on top of storage. run is invoked for each firing
// job.
func New(storage Storage, run RunFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		storage: storage,
		run:     run,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads persisted jobs, schedules the enabled ones and starts cron.
func (s *Scheduler) Start() error {
	jobs, err := s.storage.LoadAll()
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.schedule(job); err != nil {
			s.logger.Warn("scheduling job failed", "job_id", job.ID, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs), "scheduled", len(s.entries))
	return nil
}

// Stop halts cron and waits for running entries to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Add validates, persists and schedules a new job. The job ID is generated
// when empty.
func (s *Scheduler) Add(job *Job) error {
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := s.storage.Save(job); err != nil {
		return err
	}
	if job.Enabled {
		return s.schedule(job)
	}
	return nil
}

// Remove unschedules and deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.storage.Delete(id)
}

// List returns all persisted jobs.
func (s *Scheduler) List() ([]*Job, error) {
	return s.storage.LoadAll()
}

func (s *Scheduler) schedule(job *Job) error {
	j := *job
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.fire(&j)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry for %q: %w", job.ID, err)
	}
	s.mu.Lock()
	s.entries[job.ID] = entryID
	s.mu.Unlock()
	return nil
}

// fire runs one job occurrence and records the outcome.
func (s *Scheduler) fire(job *Job) {
	s.logger.Info("job firing", "job_id", job.ID, "schedule", job.Schedule)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	err := s.run(ctx, job.Channel, job.ChatID, job.Prompt)

	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	if err != nil {
		job.LastError = err.Error()
		s.logger.Warn("job failed", "job_id", job.ID, "error", err)
	} else {
		job.LastError = ""
	}
	if serr := s.storage.Save(job); serr != nil {
		s.logger.Warn("recording job run failed", "job_id", job.ID, "error", serr)
	}
}
