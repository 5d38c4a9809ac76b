package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const wasiModuleName = "wasi_snapshot_preview1"

// instantiateWASI provides WASI preview1 to runtime modules built against a
// libc. It is a no-op if the runtime already has it.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	if m := r.Module(wasiModuleName); m != nil {
		return m, nil
	}

	builder := r.NewHostModuleBuilder(wasiModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}
