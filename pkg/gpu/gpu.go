// Package gpu selects which GPU an inference workload should use. The
// selector works on whatever the target enumerates and always produces an
// answer when at least one GPU exists: a bad preference degrades to the
// first device rather than blocking a deployment.
package gpu

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
)

// Resource is one enumerated GPU.
type Resource struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	UUID  string `json:"uuid,omitempty"`
}

// ExportVar returns the environment assignment that pins a workload to the
// resource.
func (r Resource) ExportVar() string {
	return fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", r.Index)
}

// Select picks a resource by preference. An empty preference picks the first
// resource. A non-negative integer preference picks the resource with that
// index. Any other preference is a case-insensitive substring match on the
// name. A preference that matches nothing falls back to the first resource,
// so selection only fails when the list is empty.
func Select(resources []Resource, preference string) (Resource, error) {
	if len(resources) == 0 {
		return Resource{}, fmt.Errorf("no resources enumerated")
	}

	preference = strings.TrimSpace(preference)
	if preference == "" {
		return resources[0], nil
	}

	if index, err := strconv.Atoi(preference); err == nil && index >= 0 {
		for _, r := range resources {
			if r.Index == index {
				return r, nil
			}
		}
		return resources[0], nil
	}

	needle := strings.ToLower(preference)
	for _, r := range resources {
		if strings.Contains(strings.ToLower(r.Name), needle) {
			return r, nil
		}
	}
	return resources[0], nil
}

// Runner dispatches a single request. Satisfied by *dispatch.Dispatcher.
type Runner interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

const listQuery = "nvidia-smi --query-gpu=index,name,uuid --format=csv,noheader"

// Enumerate lists the GPUs on a target by running nvidia-smi over the given
// backend.
func Enumerate(ctx context.Context, runner Runner, backend target.Backend, overrides target.Overrides, vmid int) ([]Resource, error) {
	result, err := runner.Dispatch(ctx, dispatch.Request{
		Backend:  backend,
		Target:   overrides,
		VMID:     vmid,
		Commands: []string{listQuery},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate resources: %w", err)
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("enumeration produced no output")
	}
	return ParseListing(result.Results[0].Result.Stdout)
}

// ParseListing parses nvidia-smi CSV output (index, name, uuid per line).
func ParseListing(out string) ([]Resource, error) {
	var resources []Resource
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed resource line: %q", line)
		}

		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed resource index in %q: %w", line, err)
		}

		r := Resource{
			Index: index,
			Name:  strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			r.UUID = strings.TrimSpace(parts[2])
		}
		resources = append(resources, r)
	}
	return resources, nil
}
