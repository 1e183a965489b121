package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crucible-dev/crucible"
	"github.com/crucible-dev/crucible/policy"
	"github.com/crucible-dev/crucible/registry"
)

// Apply populates a registry from a manifest, preserving section order:
// shares, module shares, module loads, code fragments.
func Apply(m *Manifest, reg *registry.Registry) {
	if len(m.Shares) > 0 {
		reg.RegisterShare(m.Shares...)
	}
	for _, ms := range m.ModuleShares {
		reg.RegisterShareFromModule(ms.Module, ms.Names...)
	}
	for _, ml := range m.Modules {
		var opts []registry.ActionOption
		if ml.Constraint != "" {
			opts = append(opts, registry.WithConstraint(ml.Constraint))
		}
		if len(ml.Imports) > 0 {
			opts = append(opts, registry.WithImports(ml.Imports...))
		}
		if len(ml.ExtraOps) > 0 {
			opts = append(opts, registry.WithExtraOps(toTags(ml.ExtraOps)...))
		}
		reg.RegisterLoadModule(ml.Module, opts...)
	}
	for _, cf := range m.Code {
		var opts []registry.ActionOption
		if len(cf.ExtraOps) > 0 {
			opts = append(opts, registry.WithExtraOps(toTags(cf.ExtraOps)...))
		}
		if cf.AllowNestedLoad {
			opts = append(opts, registry.WithNestedLoad())
		}
		reg.RegisterExecuteCode(cf.Fragment, opts...)
	}
}

// LoadFile reads, validates and parses a manifest. The format is chosen by
// extension (.yaml/.yml/.json).
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	var parser ManifestParser
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := validator.ValidateYAML(data); err != nil {
			return nil, err
		}
		parser = NewYAMLManifestParser()
	case ".json":
		if err := validator.ValidateJSON(data); err != nil {
			return nil, err
		}
		parser = NewJSONManifestParser()
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}

	return parser.Parse(data)
}

// Install wires a hook from configuration: it loads the manifest (when
// configured), populates a fresh registry and builds the hook with the
// configured identity pattern and failure policy.
func Install(cfg Config, inj *crucible.Injector) (*crucible.Hook, *registry.Registry, error) {
	reg := registry.New()
	if cfg.ManifestPath != "" {
		m, err := LoadFile(cfg.ManifestPath)
		if err != nil {
			return nil, nil, err
		}
		Apply(m, reg)
	}

	hook, err := crucible.NewHook(reg, inj,
		crucible.WithIdentityPattern(cfg.CompartmentPattern),
		crucible.WithFailMode(cfg.FailMode()),
	)
	if err != nil {
		return nil, nil, err
	}
	return hook, reg, nil
}

func toTags(ops []string) []policy.Tag {
	tags := make([]policy.Tag, len(ops))
	for i, op := range ops {
		tags[i] = policy.Tag(op)
	}
	return tags
}
