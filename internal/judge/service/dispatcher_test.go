package service

import (
	"context"
	"testing"
	"time"

	"fuzojd/internal/judge/judger"
	"fuzojd/internal/judge/pmodel"
	appErr "fuzojd/pkg/errors"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	factory := judger.NewFactory(judger.Config{WorkRoot: t.TempDir()})
	d := NewDispatcher(factory, 2)
	t.Cleanup(d.Shutdown)
	return d
}

func TestSubmitValidatesJob(t *testing.T) {
	d := testDispatcher(t)
	if _, err := d.Submit(Job{}); err == nil {
		t.Fatal("Submit accepted an empty job")
	}
}

func TestUnsupportedLanguageResolvesFuture(t *testing.T) {
	d := testDispatcher(t)

	future, err := d.Submit(Job{
		Problem:  &pmodel.Problem{ID: "p", CheckerLanguage: pmodel.LanguageCpp},
		Solution: &pmodel.Solution{ID: "s", Language: pmodel.LanguagePython},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := future.Wait(ctx)
	if result != nil {
		t.Fatalf("result = %+v, want nil", result)
	}
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("err = %v, want LanguageNotSupported", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	future := &Future{ch: make(chan outcome, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := future.Wait(ctx); !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	factory := judger.NewFactory(judger.Config{WorkRoot: t.TempDir()})
	d := NewDispatcher(factory, 1)
	d.Shutdown()

	if _, err := d.Submit(Job{
		Problem:  &pmodel.Problem{ID: "p"},
		Solution: &pmodel.Solution{ID: "s"},
	}); err == nil {
		t.Fatal("Submit accepted a job after shutdown")
	}

	// Shutdown is idempotent.
	d.Shutdown()
}
