package prompt

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/tenant"
)

func term(correct string, freq int64) dictionary.Entry {
	return dictionary.Entry{
		Scope:       dictionary.GlobalScope,
		WrongText:   "x-" + correct,
		CorrectText: correct,
		Category:    dictionary.CategoryGeneral,
		Frequency:   freq,
		Active:      true,
	}
}

func TestBuild_AllPartsFit(t *testing.T) {
	t.Parallel()
	got := Build("base", []string{"alpha", "beta"}, []dictionary.Entry{term("gamma", 5)}, 100)
	want := "base\nalpha, beta, gamma"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestBuild_DropsLowFrequencyTail(t *testing.T) {
	t.Parallel()
	terms := []dictionary.Entry{
		term("first", 10),
		term("second", 5),
		term("third", 1),
	}
	// Budget large enough for base + context + first term only.
	base := "base"
	budget := utf8.RuneCountInString("base\nctx, first")

	got := Build(base, []string{"ctx"}, terms, budget)
	if !strings.Contains(got, "first") {
		t.Errorf("Build = %q, want highest-frequency term retained", got)
	}
	if strings.Contains(got, "second") || strings.Contains(got, "third") {
		t.Errorf("Build = %q, want low-frequency tail dropped", got)
	}
}

func TestBuild_ContextWordsAlwaysRetained(t *testing.T) {
	t.Parallel()
	// Budget smaller than even the mandatory part: context words must
	// survive, all terms must be dropped.
	got := Build("base", []string{"주님", "십자가"}, []dictionary.Entry{term("할렐루야", 9)}, 3)
	if !strings.Contains(got, "주님") || !strings.Contains(got, "십자가") {
		t.Errorf("Build = %q, want all context words retained", got)
	}
	if strings.Contains(got, "할렐루야") {
		t.Errorf("Build = %q, want terms dropped under a tight budget", got)
	}
}

func TestBuild_BaseNeverTruncated(t *testing.T) {
	t.Parallel()
	base := strings.Repeat("긴 기본 프롬프트 ", 20)
	got := Build(base, nil, []dictionary.Entry{term("용어", 1)}, 10)
	if !strings.HasPrefix(got, base) {
		t.Error("base prompt was truncated")
	}
}

func TestBuild_ZeroBudgetDisablesTruncation(t *testing.T) {
	t.Parallel()
	terms := []dictionary.Entry{term("one", 3), term("two", 2), term("three", 1)}
	got := Build("b", nil, terms, 0)
	for _, w := range []string{"one", "two", "three"} {
		if !strings.Contains(got, w) {
			t.Errorf("Build = %q, missing %q with truncation disabled", got, w)
		}
	}
}

func TestBuild_DeduplicatesAgainstContextWords(t *testing.T) {
	t.Parallel()
	got := Build("b", []string{"할렐루야"}, []dictionary.Entry{term("할렐루야", 9)}, 0)
	if strings.Count(got, "할렐루야") != 1 {
		t.Errorf("Build = %q, want term deduplicated against context words", got)
	}
}

func TestBuild_EmptyBase(t *testing.T) {
	t.Parallel()
	got := Build("", []string{"alpha"}, nil, 100)
	if got != "alpha" {
		t.Errorf("Build = %q, want %q", got, "alpha")
	}
}

func TestForTenant_UsesTopTermsAndContextWords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dict := dictionary.NewMemStore()
	tenants := tenant.NewMemStore()

	if _, err := dict.Upsert(ctx, "church-1", "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s := tenant.Defaults("church-1")
	s.ContextWords = []string{"요한복음"}
	if err := tenants.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	b := NewBuilder(dict, tenants, WithBase("용어:"))
	got, err := b.ForTenant(ctx, "church-1")
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}
	want := "용어:\n요한복음, 아브라함"
	if got != want {
		t.Errorf("ForTenant = %q, want %q", got, want)
	}
}

func TestForTenant_PromptOverrideWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dict := dictionary.NewMemStore()
	tenants := tenant.NewMemStore()

	s := tenant.Defaults("church-1")
	s.PromptOverride = "고정된 프롬프트"
	if err := tenants.Update(ctx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}

	b := NewBuilder(dict, tenants)
	got, err := b.ForTenant(ctx, "church-1")
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}
	if got != "고정된 프롬프트" {
		t.Errorf("ForTenant = %q, want the override verbatim", got)
	}
}

func TestForTenant_OrdersTermsByFrequency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dict := dictionary.NewMemStore()
	tenants := tenant.NewMemStore()

	for range 3 {
		if _, err := dict.Upsert(ctx, "church-1", "자주틀림", "자주맞음", dictionary.CategoryGeneral); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if _, err := dict.Upsert(ctx, "church-1", "가끔틀림", "가끔맞음", dictionary.CategoryGeneral); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	b := NewBuilder(dict, tenants, WithBase(""))
	got, err := b.ForTenant(ctx, "church-1")
	if err != nil {
		t.Fatalf("ForTenant: %v", err)
	}
	if got != "자주맞음, 가끔맞음" {
		t.Errorf("ForTenant = %q, want frequency-descending term order", got)
	}
}
