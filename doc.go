// Package nativebridge lets Go code call into a separately compiled embedded
// runtime, such as a GraalVM native-image library or a WebAssembly module, as
// if it were an in-process library.
//
// # Architecture Overview
//
//	nativebridge/        Context bundling configuration, isolate, error log, metrics
//	├── isolate/         Thread attachment and the Run/Call funnel into the runtime
//	├── handle/          Release-once ownership of runtime-allocated resources
//	├── entity/          Integer ids for host objects referenced by the runtime
//	├── dispatch/        Tiered asynchronous listener dispatch
//	├── errors/          Entry point codes, managed exceptions, bounded error log
//	├── metrics/         Prometheus collectors
//	├── config/          YAML configuration
//	├── engine/          wazero-hosted runtime backend
//	└── graal/           GraalVM native-image backend (cgo, graal build tag)
//
// # Quick Start
//
//	cfg, err := config.Load("bridge.yaml")
//	if err != nil {
//		return err
//	}
//	bc, err := nativebridge.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer bc.Close(ctx)
//
//	quotes := nativebridge.NewHandler[Quote](bc, "quotes")
//	quotes.Add(func(q Quote) { ... })
//
// # Process-wide Context
//
// Init installs a Context reachable through Default until Shutdown. Passing a
// *Context explicitly is preferred; the default exists for code that receives
// callbacks without a way to carry one.
package nativebridge
