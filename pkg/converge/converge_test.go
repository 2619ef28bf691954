package converge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
		{
			name: "only comments and whitespace",
			raw:  "# nothing here\n   \n\t# still nothing",
			want: nil,
		},
		{
			name: "comma separated",
			raw:  "llama3,mistral,phi3",
			want: []string{"llama3", "mistral", "phi3"},
		},
		{
			name: "newline separated with comments",
			raw:  "llama3 # the default\nmistral\n# phi3 disabled for now",
			want: []string{"llama3", "mistral"},
		},
		{
			name: "mixed separators",
			raw:  "llama3, mistral\tphi3\ngemma",
			want: []string{"llama3", "mistral", "phi3", "gemma"},
		},
		{
			name: "duplicates keep first occurrence order",
			raw:  "b,a,b,c,a",
			want: []string{"b", "a", "c"},
		},
		{
			name: "trailing and doubled commas",
			raw:  "llama3,,mistral,",
			want: []string{"llama3", "mistral"},
		},
		{
			name: "windows line endings",
			raw:  "llama3\r\nmistral\r\n",
			want: []string{"llama3", "mistral"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %v, want %v", tt.raw, got, tt.want)
			}

			// Normalizing an already-normal list must change nothing.
			again := Normalize(strings.Join(got, "\n"))
			if !reflect.DeepEqual(again, got) {
				t.Errorf("Normalize not idempotent: %v -> %v", got, again)
			}
		})
	}
}

func TestConverge(t *testing.T) {
	present := map[string]bool{"a": true, "c": true}
	var applied []string

	probe := func(ctx context.Context, unit string) (bool, error) {
		return present[unit], nil
	}
	apply := func(ctx context.Context, unit string) error {
		applied = append(applied, unit)
		return nil
	}

	c := New(nil)
	report, err := c.Converge(context.Background(), []string{"a", "b", "c", "d"}, probe, apply)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	if report.Status != StatusConverged {
		t.Errorf("Status = %q, want %q", report.Status, StatusConverged)
	}
	if report.Applied != 2 || report.Skipped != 2 {
		t.Errorf("Applied = %d, Skipped = %d, want 2 and 2", report.Applied, report.Skipped)
	}
	if !reflect.DeepEqual(applied, []string{"b", "d"}) {
		t.Errorf("applied = %v, want [b d]", applied)
	}

	wantOutcomes := []string{OutcomeSkipped, OutcomeApplied, OutcomeSkipped, OutcomeApplied}
	for i, want := range wantOutcomes {
		if report.Units[i].Outcome != want {
			t.Errorf("unit %d outcome = %q, want %q", i, report.Units[i].Outcome, want)
		}
	}
}

func TestConvergeStopsAtApplyFailure(t *testing.T) {
	var applied []string

	probe := func(ctx context.Context, unit string) (bool, error) { return false, nil }
	apply := func(ctx context.Context, unit string) error {
		if unit == "b" {
			return fmt.Errorf("pull failed")
		}
		applied = append(applied, unit)
		return nil
	}

	c := New(nil)
	report, err := c.Converge(context.Background(), []string{"a", "b", "c"}, probe, apply)
	if err == nil {
		t.Fatal("Converge() error = nil, want UnitError")
	}

	var unitErr *UnitError
	if !errors.As(err, &unitErr) {
		t.Fatalf("error type = %T, want *UnitError", err)
	}
	if unitErr.Unit != "b" || unitErr.Op != "apply" {
		t.Errorf("UnitError = %+v, want unit b op apply", unitErr)
	}

	if report.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", report.Status, StatusFailed)
	}
	// "c" never ran.
	if !reflect.DeepEqual(applied, []string{"a"}) {
		t.Errorf("applied = %v, want [a]", applied)
	}
	if len(report.Units) != 2 {
		t.Errorf("got %d unit results, want 2", len(report.Units))
	}
}

func TestConvergeStopsAtProbeFailure(t *testing.T) {
	probe := func(ctx context.Context, unit string) (bool, error) {
		return false, fmt.Errorf("cannot list")
	}
	apply := func(ctx context.Context, unit string) error {
		t.Error("apply should never run when probe fails")
		return nil
	}

	c := New(nil)
	_, err := c.Converge(context.Background(), []string{"a"}, probe, apply)

	var unitErr *UnitError
	if !errors.As(err, &unitErr) {
		t.Fatalf("error type = %T, want *UnitError", err)
	}
	if unitErr.Op != "probe" {
		t.Errorf("Op = %q, want probe", unitErr.Op)
	}
}

func TestConvergeEmptyUnits(t *testing.T) {
	c := New(nil)
	report, err := c.Converge(context.Background(), nil,
		func(ctx context.Context, unit string) (bool, error) { return false, nil },
		func(ctx context.Context, unit string) error { return nil },
	)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if report.Status != StatusConverged || len(report.Units) != 0 {
		t.Errorf("empty run report = %+v", report)
	}
}

func TestWaitReady(t *testing.T) {
	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		p := RetryPolicy{Attempts: 5, Interval: time.Millisecond}
		err := p.WaitReady(context.Background(), func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})
		if err != nil {
			t.Fatalf("WaitReady() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		p := RetryPolicy{Attempts: 3, Interval: time.Millisecond}
		err := p.WaitReady(context.Background(), func(ctx context.Context) (bool, error) {
			return false, fmt.Errorf("connection refused")
		})
		if err == nil {
			t.Fatal("WaitReady() error = nil, want exhaustion")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := RetryPolicy{Attempts: 100, Interval: time.Hour}
		err := p.WaitReady(ctx, func(ctx context.Context) (bool, error) {
			return false, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}
