package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/foxzi/mailcast/internal/dispatch"
	"github.com/foxzi/mailcast/internal/lock"
	"github.com/foxzi/mailcast/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu    sync.Mutex
	due   []*models.Campaign
	err   error
	panic bool
	calls int
}

func (f *fakeSource) ListDue(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.due, f.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	baseURLs []string
	errs     map[string]error
}

func (f *fakeLauncher) StartScheduled(ctx context.Context, campaignID, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[campaignID]; err != nil {
		return err
	}
	f.launched = append(f.launched, campaignID)
	f.baseURLs = append(f.baseURLs, baseURL)
	return nil
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

func TestPoll(t *testing.T) {
	source := &fakeSource{due: []*models.Campaign{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	launcher := &fakeLauncher{errs: map[string]error{
		"b": dispatch.ErrAlreadyRunning,
		"c": errors.New("disk full"),
	}}
	s := New(source, launcher, Config{BaseURL: "https://mail.example.com"}, discardLogger())

	n, err := s.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("launched = %d, want 1", n)
	}
	if len(launcher.launched) != 1 || launcher.launched[0] != "a" {
		t.Errorf("launched = %v, want [a]", launcher.launched)
	}
	if launcher.baseURLs[0] != "https://mail.example.com" {
		t.Errorf("baseURL = %q", launcher.baseURLs[0])
	}
}

func TestPollSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("db closed")}
	s := New(source, &fakeLauncher{}, Config{}, discardLogger())

	if _, err := s.Poll(context.Background()); err == nil {
		t.Error("Poll() error = nil, want error")
	}
}

func TestDefaultInterval(t *testing.T) {
	s := New(&fakeSource{}, &fakeLauncher{}, Config{}, discardLogger())
	if s.cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", s.cfg.Interval, DefaultInterval)
	}
}

func TestRunLoop(t *testing.T) {
	source := &fakeSource{due: []*models.Campaign{{ID: "a"}}}
	launcher := &fakeLauncher{}
	s := New(source, launcher, Config{Interval: 5 * time.Millisecond}, discardLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for launcher.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if launcher.count() < 2 {
		t.Errorf("launched %d times, want repeated polls", launcher.count())
	}
}

func TestFirstPollOnStart(t *testing.T) {
	source := &fakeSource{due: []*models.Campaign{{ID: "a"}}}
	launcher := &fakeLauncher{}
	s := New(source, launcher, Config{Interval: time.Hour}, discardLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for launcher.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if got := launcher.count(); got != 1 {
		t.Errorf("launched %d times before the first tick, want 1", got)
	}
}

func TestPanicDoesNotStopLoop(t *testing.T) {
	source := &fakeSource{panic: true}
	s := New(source, &fakeLauncher{}, Config{Interval: 5 * time.Millisecond}, discardLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for source.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if source.callCount() < 3 {
		t.Errorf("polls = %d, want the loop to survive panics", source.callCount())
	}
}

func TestSingleSchedulerPerLockFile(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "scheduler.lock")
	cfg := Config{Interval: time.Hour, LockFile: lockFile}

	first := New(&fakeSource{}, &fakeLauncher{}, cfg, discardLogger())
	if err := first.Start(); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}

	second := New(&fakeSource{}, &fakeLauncher{}, cfg, discardLogger())
	if err := second.Start(); !errors.Is(err, lock.ErrLocked) {
		t.Errorf("second Start() error = %v, want ErrLocked", err)
	}

	first.Stop()

	third := New(&fakeSource{}, &fakeLauncher{}, cfg, discardLogger())
	if err := third.Start(); err != nil {
		t.Fatalf("Start() after Stop error = %v", err)
	}
	third.Stop()
}
