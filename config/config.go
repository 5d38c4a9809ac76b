// Package config loads the bridge configuration from YAML.
//
// Every field has a default, so an empty document is a valid configuration:
//
//	library:
//	  kind: graal
//	  path: /opt/app/libdxfeed.so
//	graal:
//	  release_symbol: dxfg_JavaObjectHandler_release
//	dispatch:
//	  buffer_size: 1
//	logging:
//	  level: debug
//	  development: true
package config

import (
	"bytes"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/native-bridge/errors"
)

// Library kinds.
const (
	KindWasm  = "wasm"
	KindGraal = "graal"
)

// Config is the root configuration document.
type Config struct {
	Library  Library  `yaml:"library"`
	Graal    Graal    `yaml:"graal"`
	Wasm     Wasm     `yaml:"wasm"`
	Dispatch Dispatch `yaml:"dispatch"`
	Errors   Errors   `yaml:"errors"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Library selects the embedded runtime.
type Library struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Graal configures a GraalVM native-image library.
type Graal struct {
	ReleaseSymbol          string `yaml:"release_symbol"`
	ExceptionSymbol        string `yaml:"exception_symbol"`
	ExceptionReleaseSymbol string `yaml:"exception_release_symbol"`
}

// Wasm configures a WebAssembly runtime module.
type Wasm struct {
	HostModule       string `yaml:"host_module"`
	AttachExport     string `yaml:"attach_export"`
	DetachExport     string `yaml:"detach_export"`
	ReleaseExport    string `yaml:"release_export"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	EnableWASI       bool   `yaml:"enable_wasi"`
}

// Dispatch configures listener dispatchers.
type Dispatch struct {
	BufferSize int `yaml:"buffer_size"`
}

// Errors configures the error history.
type Errors struct {
	Capacity int `yaml:"capacity"`
}

// Logging configures the zap logger built by Build.
type Logging struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

// Metrics configures the prometheus collectors.
type Metrics struct {
	Namespace string `yaml:"namespace"`
	Enabled   bool   `yaml:"enabled"`
}

// Default returns the configuration used when no document is given.
func Default() *Config {
	return &Config{
		Library: Library{Kind: KindWasm},
		Graal: Graal{
			ReleaseSymbol:          "dxfg_JavaObjectHandler_release",
			ExceptionSymbol:        "dxfg_get_and_clear_thread_exception_t",
			ExceptionReleaseSymbol: "dxfg_Exception_release",
		},
		Wasm: Wasm{
			HostModule:    "bridge",
			AttachExport:  "bridge_attach_thread",
			DetachExport:  "bridge_detach_thread",
			ReleaseExport: "bridge_release",
		},
		Dispatch: Dispatch{BufferSize: 1024},
		Errors:   Errors{Capacity: 1024},
		Logging:  Logging{Level: "info", Encoding: "json"},
		Metrics:  Metrics{Namespace: "native_bridge", Enabled: true},
	}
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Op("load").
			Value(path).
			Cause(err).
			Detail("read config file").
			Build()
	}
	return Parse(data)
}

func invalid(field string, value any, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidArgument).
		Op(field).
		Value(value).
		Detail(detail).
		Build()
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var err error

	switch c.Library.Kind {
	case KindWasm, KindGraal:
	default:
		err = multierr.Append(err, invalid("library.kind", c.Library.Kind, "must be wasm or graal"))
	}
	if c.Dispatch.BufferSize < 1 {
		err = multierr.Append(err, invalid("dispatch.buffer_size", c.Dispatch.BufferSize, "must be at least 1"))
	}
	if c.Errors.Capacity < 1 {
		err = multierr.Append(err, invalid("errors.capacity", c.Errors.Capacity, "must be at least 1"))
	}
	if c.Wasm.HostModule == "" {
		err = multierr.Append(err, invalid("wasm.host_module", c.Wasm.HostModule, "must not be empty"))
	}
	if _, lerr := zapcore.ParseLevel(c.Logging.Level); lerr != nil {
		err = multierr.Append(err, invalid("logging.level", c.Logging.Level, lerr.Error()))
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		err = multierr.Append(err, invalid("logging.encoding", c.Logging.Encoding, "must be json or console"))
	}
	return err
}

// Build constructs a zap logger from the logging section.
func (l Logging) Build(opts ...zap.Option) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, invalid("logging.level", l.Level, err.Error())
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if l.Encoding != "" {
		zc.Encoding = l.Encoding
	}
	return zc.Build(opts...)
}
