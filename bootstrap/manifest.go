// Package bootstrap is the operator surface: it loads a declarative
// manifest of capability registrations, validates it against a generated
// JSON schema, and populates a registry from it. Where and when the
// manifest is loaded is the host's concern; this package only turns bytes
// into registrations.
package bootstrap

// Manifest declares the capabilities to inject into matching compartments.
// Sections apply in order: shares, module shares, module loads, code
// fragments.
type Manifest struct {
	Shares       []string       `json:"shares,omitempty" yaml:"shares"`
	ModuleShares []ModuleShare  `json:"module_shares,omitempty" yaml:"module_shares"`
	Modules      []ModuleLoad   `json:"modules,omitempty" yaml:"modules"`
	Code         []CodeFragment `json:"code,omitempty" yaml:"code"`
}

// ModuleShare names module exports to alias into the compartment after
// loading the module into the host space.
type ModuleShare struct {
	Module     string   `json:"module" yaml:"module"`
	Constraint string   `json:"constraint,omitempty" yaml:"constraint"`
	Names      []string `json:"names,omitempty" yaml:"names"`
}

// ModuleLoad loads a module and evaluates its shim inside the compartment.
type ModuleLoad struct {
	Module     string   `json:"module" yaml:"module"`
	Constraint string   `json:"constraint,omitempty" yaml:"constraint"`
	Imports    []string `json:"imports,omitempty" yaml:"imports"`
	ExtraOps   []string `json:"extra_ops,omitempty" yaml:"extra_ops"`
}

// CodeFragment evaluates setup code inside the compartment.
type CodeFragment struct {
	Fragment        string   `json:"fragment" yaml:"fragment"`
	ExtraOps        []string `json:"extra_ops,omitempty" yaml:"extra_ops"`
	AllowNestedLoad bool     `json:"allow_nested_load,omitempty" yaml:"allow_nested_load"`
}
