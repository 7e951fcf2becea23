//go:build windows || (js && wasm)

package onnx

import (
	"context"
	"fmt"
)

type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

const DefaultAPIVersion = 23

// Runner cannot execute graphs here. Supply a GraphRunner to
// NewEmissionModel instead.
type Runner struct {
	graph Graph
}

func NewRunner(g Graph, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("%w: graph %q", ErrNoRuntime, g.Name)
}

func (r *Runner) Run(context.Context, map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("%w: graph %q", ErrNoRuntime, r.graph.Name)
}

func (r *Runner) Close() {}

func (r *Runner) Name() string { return r.graph.Name }
