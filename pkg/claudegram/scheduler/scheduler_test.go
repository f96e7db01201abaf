package scheduler

import (
	"context"
	"testing"
	"time"
)

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	jobs map[string]*Job
}

func newMemStorage() *memStorage {
	return &memStorage{jobs: make(map[string]*Job)}
}

func (m *memStorage) Save(job *Job) error {
	j := *job
	m.jobs[job.ID] = &j
	return nil
}

func (m *memStorage) Delete(id string) error {
	delete(m.jobs, id)
	return nil
}

func (m *memStorage) LoadAll() ([]*Job, error) {
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		c := *j
		out = append(out, &c)
	}
	return out, nil
}

func noopRun(context.Context, string, string, string) error { return nil }

func TestScheduler_AddValidatesSchedule(t *testing.T) {
	s := New(newMemStorage(), noopRun, nil)

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"standard five field", "0 9 * * 1-5", false},
		{"descriptor", "@daily", false},
		{"every descriptor", "@every 1h", false},
		{"gibberish", "whenever", true},
		{"too few fields", "* *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(&Job{Schedule: tt.schedule, Prompt: "p", ChatID: "1"})
			if (err != nil) != tt.wantErr {
				t.Errorf("Add(%q) err = %v, wantErr %t", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_AddFillsIDAndTimestamp(t *testing.T) {
	storage := newMemStorage()
	s := New(storage, noopRun, nil)

	job := &Job{Schedule: "@daily", Prompt: "briefing", ChatID: "1", Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if job.ID == "" {
		t.Error("Add did not assign an ID")
	}
	if job.CreatedAt.IsZero() {
		t.Error("Add did not stamp CreatedAt")
	}
	if _, ok := storage.jobs[job.ID]; !ok {
		t.Error("job not persisted")
	}
}

func TestScheduler_RemoveDeletesJob(t *testing.T) {
	storage := newMemStorage()
	s := New(storage, noopRun, nil)

	job := &Job{Schedule: "@daily", Prompt: "p", ChatID: "1", Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := storage.jobs[job.ID]; ok {
		t.Error("job still persisted after Remove")
	}
	s.mu.Lock()
	_, scheduled := s.entries[job.ID]
	s.mu.Unlock()
	if scheduled {
		t.Error("cron entry still registered after Remove")
	}
}

func TestScheduler_StartSchedulesOnlyEnabledJobs(t *testing.T) {
	storage := newMemStorage()
	storage.jobs["on"] = &Job{ID: "on", Schedule: "@daily", Enabled: true}
	storage.jobs["off"] = &Job{ID: "off", Schedule: "@daily", Enabled: false}

	s := New(storage, noopRun, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries["on"]; !ok {
		t.Error("enabled job not scheduled")
	}
	if _, ok := s.entries["off"]; ok {
		t.Error("disabled job scheduled")
	}
}

func TestScheduler_FireRecordsOutcome(t *testing.T) {
	storage := newMemStorage()

	failing := func(context.Context, string, string, string) error {
		return context.DeadlineExceeded
	}
	s := New(storage, failing, nil)

	job := &Job{ID: "j1", Schedule: "@daily", Prompt: "p", ChatID: "1"}
	s.fire(job)

	if job.RunCount != 1 {
		t.Errorf("run count = %d, want 1", job.RunCount)
	}
	if job.LastRunAt == nil || time.Since(*job.LastRunAt) > time.Minute {
		t.Errorf("last run at = %v", job.LastRunAt)
	}
	if job.LastError == "" {
		t.Error("failure not recorded")
	}

	// A later success clears the error.
	s.run = noopRun
	s.fire(job)
	if job.RunCount != 2 {
		t.Errorf("run count = %d, want 2", job.RunCount)
	}
	if job.LastError != "" {
		t.Errorf("last error = %q, want cleared", job.LastError)
	}

	saved := storage.jobs["j1"]
	if saved == nil || saved.RunCount != 2 {
		t.Errorf("persisted job = %+v, want run count 2", saved)
	}
}
