// Package nativemod loads native module binaries (WASM) and bridges their
// exports into host-space callables. Guest functions follow the packed
// ptr/len convention: a single i64 packs a 32-bit pointer and length to a
// JSON payload in guest memory, and the guest exports an "allocate"
// function for argument buffers.
package nativemod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/crucible-dev/crucible/hostspace"
)

// Reserved export names that are part of the ABI rather than module
// functionality.
var reservedExports = map[string]struct{}{
	"allocate":    {},
	"deallocate":  {},
	"_initialize": {},
	"_start":      {},
	"memory":      {},
}

// Loader implements hostspace.NativeLoader over a wazero runtime.
type Loader struct {
	runtime wazero.Runtime
	logger  *slog.Logger
}

var _ hostspace.NativeLoader = (*Loader)(nil)

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a loader with a WASI-enabled runtime.
func NewLoader(ctx context.Context, opts ...Option) (*Loader, error) {
	l := &Loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	rt := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)
	l.runtime = rt
	return l, nil
}

// Load instantiates a binary and returns its bridgeable exports. Exports
// outside the packed i64 signature are skipped with a debug log; reserved
// ABI exports are never bridged.
func (l *Loader) Load(ctx context.Context, binary []byte) (map[string]hostspace.Func, error) {
	mod, err := l.runtime.Instantiate(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("instantiate native module: %w", err)
	}

	exports := make(map[string]hostspace.Func)
	for name, def := range mod.ExportedFunctionDefinitions() {
		if _, reserved := reservedExports[name]; reserved {
			continue
		}
		if !packedSignature(def) {
			l.logger.Debug("skipping native export with non-packed signature", "export", name)
			continue
		}
		exports[name] = l.bridge(mod, name)
	}
	return exports, nil
}

// Close releases the runtime and all instantiated modules.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

func packedSignature(def api.FunctionDefinition) bool {
	params, results := def.ParamTypes(), def.ResultTypes()
	return len(params) == 1 && params[0] == api.ValueTypeI64 &&
		len(results) == 1 && results[0] == api.ValueTypeI64
}

// bridge wraps a guest export as a host callable. Arguments are marshaled
// to a JSON array in guest memory; the result is read back from the packed
// return value.
func (l *Loader) bridge(mod api.Module, name string) hostspace.Func {
	return func(args ...any) (any, error) {
		ctx := context.Background()

		payload, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments for %s: %w", name, err)
		}

		packed, err := l.callPacked(ctx, mod, name, payload)
		if err != nil {
			return nil, err
		}

		//nolint:gosec // WASM pointers and lengths are 32-bit
		ptr, length := uint32(packed>>32), uint32(packed)
		if length == 0 {
			return nil, nil
		}
		data, ok := mod.Memory().Read(ptr, length)
		if !ok {
			return nil, fmt.Errorf("read result of %s from guest memory at ptr=%d, len=%d", name, ptr, length)
		}

		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("unmarshal result of %s: %w", name, err)
		}
		return out, nil
	}
}

func (l *Loader) callPacked(ctx context.Context, mod api.Module, name string, input []byte) (uint64, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("export %q not found", name)
	}

	var ptr, length uint64
	if len(input) > 0 {
		allocate := mod.ExportedFunction("allocate")
		if allocate == nil {
			return 0, fmt.Errorf("native module does not export 'allocate'")
		}
		res, err := allocate.Call(ctx, uint64(len(input)))
		if err != nil {
			return 0, fmt.Errorf("allocate failed: %w", err)
		}
		ptr = res[0]
		length = uint64(len(input))

		//nolint:gosec // WASM pointers are 32-bit
		if !mod.Memory().Write(uint32(ptr), input) {
			return 0, fmt.Errorf("write arguments of %s to guest memory", name)
		}
	}

	res, err := fn.Call(ctx, (ptr<<32)|length)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", name, err)
	}
	return res[0], nil
}
