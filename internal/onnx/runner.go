//go:build !windows && !(js && wasm)

package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig selects the ORT library and the C API version of the binding.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// DefaultAPIVersion is the ORT C API version the purego binding targets.
const DefaultAPIVersion = 23

// Runner owns the ORT runtime, environment and session of one graph.
type Runner struct {
	graph   Graph
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

var _ GraphRunner = (*Runner)(nil)

func NewRunner(g Graph, cfg RunnerConfig) (*Runner, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = DefaultAPIVersion
	}

	rt, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("onnx: load runtime for %q: %w", g.Name, err)
	}

	env, err := rt.NewEnv("tagger-"+g.Name, ort.LoggingLevelWarning)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("onnx: env for %q: %w", g.Name, err)
	}

	session, err := rt.NewSession(env, g.Path, nil)
	if err != nil {
		env.Close()
		_ = rt.Close()

		return nil, fmt.Errorf("onnx: open %s: %w", g.Path, err)
	}

	return &Runner{graph: g, runtime: rt, env: env, session: session}, nil
}

func (r *Runner) Name() string { return r.graph.Name }

// Run feeds inputs to the graph. Every input the graph declares must be
// supplied and nothing else may be.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("onnx: runner %q is closed", r.graph.Name)
	}

	for _, n := range r.graph.Inputs {
		if _, ok := inputs[n.Name]; !ok {
			return nil, fmt.Errorf("onnx: graph %q: missing input %q", r.graph.Name, n.Name)
		}
	}

	values := make(map[string]*ort.Value, len(inputs))
	defer closeValues(values)

	for name, t := range inputs {
		if len(r.graph.Inputs) > 0 {
			if _, ok := r.graph.Input(name); !ok {
				return nil, fmt.Errorf("onnx: graph %q has no input %q", r.graph.Name, name)
			}
		}

		v, err := toValue(r.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("onnx: input %q: %w", name, err)
		}

		values[name] = v
	}

	start := time.Now()

	outputs, err := r.session.Run(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("onnx: run %q: %w", r.graph.Name, err)
	}
	defer closeValues(outputs)

	slog.Debug("onnx run", "graph", r.graph.Name, "duration_ms", time.Since(start).Milliseconds())

	results := make(map[string]*Tensor, len(outputs))
	for name, v := range outputs {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("onnx: output %q: %w", name, err)
		}

		results[name] = t
	}

	return results, nil
}

// Close is idempotent.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}

	if r.env != nil {
		r.env.Close()
		r.env = nil
	}

	if r.runtime != nil {
		_ = r.runtime.Close()
		r.runtime = nil
	}
}

func toValue(rt *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch t.dtype {
	case Float32:
		return ort.NewTensorValue(rt, t.f32, t.shape)
	case Int64:
		return ort.NewTensorValue(rt, t.i64, t.shape)
	default:
		return nil, fmt.Errorf("unsupported dtype %q", t.dtype)
	}
}

func fromValue(v *ort.Value) (*Tensor, error) {
	kind, err := v.GetTensorElementType()
	if err != nil {
		return nil, err
	}

	switch kind {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return Float32Tensor(data, shape...)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		return Int64Tensor(data, shape...)
	default:
		return nil, fmt.Errorf("unsupported element type %d", kind)
	}
}

func closeValues(values map[string]*ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Close()
		}
	}
}
