package onnx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type VerifyOptions struct {
	ManifestPath string
	Runner       RunnerConfig
	// NumTags, when positive, is checked against the last emissions
	// dimension of the tagger graph.
	NumTags int
	Stdout  io.Writer
	Stderr  io.Writer
}

// smokeDims sizes the symbolic dimensions of smoke-test inputs.
var smokeDims = map[string]int64{"batch": 1, "tokens": 2}

var openGraphRunner = func(g Graph, cfg RunnerConfig) (GraphRunner, error) {
	return NewRunner(g, cfg)
}

// Verify runs every graph in the bundle once on zero inputs and prints
// PASS or FAIL per graph.
func Verify(ctx context.Context, opts VerifyOptions) error {
	if opts.ManifestPath == "" {
		return errors.New("onnx: manifest path is required")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	bundle, err := LoadBundle(opts.ManifestPath)
	if err != nil {
		return err
	}

	var failed []string

	for _, g := range bundle.Graphs() {
		if err := smokeGraph(ctx, g, opts); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", g.Name, err)
			failed = append(failed, g.Name)

			continue
		}

		_, _ = fmt.Fprintf(opts.Stdout, "PASS %s\n", g.Name)
	}

	if len(failed) > 0 {
		return fmt.Errorf("onnx: %d graph(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}

	return nil
}

func smokeGraph(ctx context.Context, g Graph, opts VerifyOptions) error {
	inputs := make(map[string]*Tensor, len(g.Inputs))

	for _, n := range g.Inputs {
		t, err := ZeroTensor(n, smokeDims)
		if err != nil {
			return fmt.Errorf("input %q: %w", n.Name, err)
		}

		inputs[n.Name] = t
	}

	runner, err := openGraphRunner(g, opts.Runner)
	if err != nil {
		return err
	}
	defer runner.Close()

	outputs, err := runner.Run(ctx, inputs)
	if err != nil {
		return err
	}

	for _, n := range g.Outputs {
		if _, ok := outputs[n.Name]; !ok {
			return fmt.Errorf("missing output %q", n.Name)
		}
	}

	if g.Name != GraphName || opts.NumTags <= 0 {
		return nil
	}

	em, ok := outputs[OutputEmissions]
	if !ok {
		return fmt.Errorf("missing output %q", OutputEmissions)
	}

	if shape := em.Shape(); len(shape) != 3 || shape[2] != int64(opts.NumTags) {
		return fmt.Errorf("%s shape %v does not end in %d tags", OutputEmissions, shape, opts.NumTags)
	}

	return nil
}
