package gpu

import (
	"context"
	"reflect"
	"testing"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
)

var testResources = []Resource{
	{Index: 0, Name: "NVIDIA GeForce RTX 3060", UUID: "GPU-aaa"},
	{Index: 1, Name: "NVIDIA GeForce RTX 4090", UUID: "GPU-bbb"},
	{Index: 2, Name: "NVIDIA A100-SXM4-80GB", UUID: "GPU-ccc"},
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name       string
		resources  []Resource
		preference string
		wantIndex  int
		wantErr    bool
	}{
		{
			name:      "empty preference picks first",
			resources: testResources,
			wantIndex: 0,
		},
		{
			name:       "integer preference matches index",
			resources:  testResources,
			preference: "2",
			wantIndex:  2,
		},
		{
			name:       "integer preference out of range falls back to first",
			resources:  testResources,
			preference: "7",
			wantIndex:  0,
		},
		{
			name:       "substring match is case-insensitive",
			resources:  testResources,
			preference: "rtx 4090",
			wantIndex:  1,
		},
		{
			name:       "substring match picks first of several",
			resources:  testResources,
			preference: "geforce",
			wantIndex:  0,
		},
		{
			name:       "no match falls back to first",
			resources:  testResources,
			preference: "radeon",
			wantIndex:  0,
		},
		{
			name:       "whitespace preference treated as empty",
			resources:  testResources,
			preference: "   ",
			wantIndex:  0,
		},
		{
			name: "negative integer matches names, not indexes",
			resources: []Resource{
				{Index: 0, Name: "NVIDIA GeForce RTX 3060"},
				{Index: 1, Name: "NVIDIA H100-1"},
			},
			preference: "-1",
			wantIndex:  1,
		},
		{
			name:       "negative integer with no name match falls back to first",
			resources:  testResources,
			preference: "-1",
			wantIndex:  0,
		},
		{
			name:       "empty resource list fails",
			resources:  nil,
			preference: "0",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.resources, tt.preference)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Select() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Index != tt.wantIndex {
				t.Errorf("Select() index = %d, want %d", got.Index, tt.wantIndex)
			}
		})
	}
}

func TestSelectNeverFailsOnNonEmptyInput(t *testing.T) {
	preferences := []string{"", "0", "99", "-1", "bogus", "NVIDIA", "A100", "  4090  "}
	for _, pref := range preferences {
		if _, err := Select(testResources, pref); err != nil {
			t.Errorf("Select(%q) error = %v, want nil", pref, err)
		}
	}
}

func TestParseListing(t *testing.T) {
	out := `0, NVIDIA GeForce RTX 3060, GPU-aaa
1, NVIDIA GeForce RTX 4090, GPU-bbb

2, NVIDIA A100-SXM4-80GB, GPU-ccc`

	got, err := ParseListing(out)
	if err != nil {
		t.Fatalf("ParseListing() error = %v", err)
	}
	if !reflect.DeepEqual(got, testResources) {
		t.Errorf("ParseListing() = %+v, want %+v", got, testResources)
	}
}

func TestParseListingMalformed(t *testing.T) {
	tests := []string{
		"zero, NVIDIA RTX, GPU-x",
		"just-one-field",
	}
	for _, out := range tests {
		if _, err := ParseListing(out); err == nil {
			t.Errorf("ParseListing(%q) should fail", out)
		}
	}
}

func TestParseListingEmpty(t *testing.T) {
	got, err := ParseListing("\n\n")
	if err != nil {
		t.Fatalf("ParseListing() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d resources, want 0", len(got))
	}
}

func TestExportVar(t *testing.T) {
	r := Resource{Index: 1, Name: "NVIDIA GeForce RTX 4090"}
	if got := r.ExportVar(); got != "CUDA_VISIBLE_DEVICES=1" {
		t.Errorf("ExportVar() = %q", got)
	}
}

type listingRunner struct {
	stdout string
}

func (r *listingRunner) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	return &dispatch.Result{
		Backend: req.Backend,
		Results: []dispatch.CommandResult{
			{Command: req.Commands[0], Result: &transports.ExecResult{Stdout: r.stdout}},
		},
	}, nil
}

func TestEnumerate(t *testing.T) {
	runner := &listingRunner{stdout: "0, NVIDIA GeForce RTX 3060, GPU-aaa"}

	got, err := Enumerate(context.Background(), runner, target.BackendSSH, target.Overrides{}, 0)
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "NVIDIA GeForce RTX 3060" {
		t.Errorf("Enumerate() = %+v", got)
	}
}
