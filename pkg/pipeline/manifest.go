package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"

	"github.com/openconduit/openconduit/pkg/target"
)

// manifest is the on-disk shape of a pipeline, decoded from CUE. The
// vars_script field holds an optional Starlark program whose string globals
// extend the static vars map.
type manifest struct {
	Name       string            `json:"name" validate:"required"`
	Backend    string            `json:"backend" validate:"required"`
	Target     manifestTarget    `json:"target"`
	VMID       int               `json:"vmid"`
	Vars       map[string]string `json:"vars"`
	VarsScript string            `json:"vars_script"`
	Setup      []Step            `json:"setup"`
	Commands   []Step            `json:"commands" validate:"required,min=1,dive"`
}

type manifestTarget struct {
	Host          string `json:"host"`
	User          string `json:"user"`
	Port          int    `json:"port" validate:"omitempty,min=1,max=65535"`
	KeyPath       string `json:"key_path"`
	KeyMaterial   string `json:"key_data_b64"`
	Password      string `json:"password"`
	StrictHostKey *bool  `json:"strict_host_key"`
}

// ManifestLoader reads pipeline manifests written in CUE.
type ManifestLoader struct {
	validate *validator.Validate
	vars     *VarsEvaluator
}

// NewManifestLoader creates a manifest loader.
func NewManifestLoader() *ManifestLoader {
	return &ManifestLoader{
		validate: validator.New(),
		vars:     NewVarsEvaluator(30 * time.Second),
	}
}

// Load parses and validates the manifest at path, evaluating its vars script
// if one is present.
func (l *ManifestLoader) Load(ctx context.Context, path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return l.LoadBytes(ctx, path, data)
}

// LoadBytes parses a manifest from memory. name is used in error messages.
func (l *ManifestLoader) LoadBytes(ctx context.Context, name string, data []byte) (*Pipeline, error) {
	cueCtx := cuecontext.New()

	value := cueCtx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", name, err)
	}

	var m manifest
	if err := value.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", name, err)
	}

	if err := l.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest %s failed validation: %w", name, err)
	}

	p := &Pipeline{
		Name:     m.Name,
		Backend:  target.ParseBackend(m.Backend),
		VMID:     m.VMID,
		Vars:     m.Vars,
		Setup:    m.Setup,
		Commands: m.Commands,
	}
	p.Target.Host = m.Target.Host
	p.Target.User = m.Target.User
	p.Target.Port = m.Target.Port
	p.Target.KeyPath = m.Target.KeyPath
	p.Target.KeyMaterial = m.Target.KeyMaterial
	p.Target.Password = m.Target.Password
	p.Target.StrictHostKey = m.Target.StrictHostKey

	if m.VarsScript != "" {
		if p.Vars == nil {
			p.Vars = make(map[string]string)
		}
		computed, err := l.vars.Evaluate(ctx, m.VarsScript, p.Vars)
		if err != nil {
			return nil, fmt.Errorf("manifest %s vars script failed: %w", name, err)
		}
		// Computed vars win over static ones of the same name.
		for k, v := range computed {
			p.Vars[k] = v
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

