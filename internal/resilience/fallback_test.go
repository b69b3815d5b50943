package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector/mock"
)

func TestFallbackGroup_PrimarySucceeds(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", BreakerSettings{})
	g.AddFallback("backup", "backup")

	var used string
	err := g.Do(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want primary", used)
	}
}

func TestFallbackGroup_FailsOverToBackup(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", BreakerSettings{})
	g.AddFallback("backup", "backup")

	var used string
	err := g.Do(func(v string) error {
		if v == "primary" {
			return errBoom
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if used != "backup" {
		t.Errorf("used = %q, want backup", used)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", BreakerSettings{})
	g.AddFallback("backup", "backup")

	err := g.Do(func(string) error { return errBoom })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup("primary", "primary", BreakerSettings{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	g.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	_ = g.Do(func(v string) error {
		if v == "primary" {
			return errBoom
		}
		return nil
	})

	// The primary must now be skipped without invoking fn for it.
	var calls []string
	err := g.Do(func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(calls) != 1 || calls[0] != "backup" {
		t.Errorf("calls = %v, want only backup", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	t.Parallel()
	g := NewFallbackGroup(1, "one", BreakerSettings{})
	g.AddFallback("two", 2)

	got, err := DoWithResult(g, func(v int) (int, error) {
		if v == 1 {
			return 0, errBoom
		}
		return v * 10, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != 20 {
		t.Errorf("result = %d, want 20", got)
	}
}

func TestCorrectorFallback_FailsOver(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{Err: errBoom}
	backup := &mock.Provider{
		Response: &corrector.Response{CorrectedText: "고친 텍스트", Confidence: 0.9},
	}

	f := NewCorrectorFallback(primary, BreakerSettings{})
	f.AddFallback(backup)

	resp, err := f.Correct(context.Background(), corrector.Request{Text: "원본"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if resp.CorrectedText != "고친 텍스트" {
		t.Errorf("CorrectedText = %q, want backup's response", resp.CorrectedText)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want primary then backup", primary.CallCount(), backup.CallCount())
	}
}

func TestCorrectorFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{Err: errBoom}
	backup := &mock.Provider{Err: errBoom}

	f := NewCorrectorFallback(primary, BreakerSettings{})
	f.AddFallback(backup)

	_, err := f.Correct(context.Background(), corrector.Request{Text: "원본"})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestCorrectorFallback_Name(t *testing.T) {
	t.Parallel()
	f := NewCorrectorFallback(&mock.Provider{}, BreakerSettings{})
	f.AddFallback(&mock.Provider{})

	if got := f.Name(); got != "mock+mock" {
		t.Errorf("Name = %q, want mock+mock", got)
	}
}
