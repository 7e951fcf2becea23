package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Node describes one graph input or output. Shape entries are numbers for
// fixed dimensions and strings for symbolic ones such as "batch".
type Node struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Graph is one ONNX file listed in a bundle manifest.
type Graph struct {
	Name    string `json:"name"`
	Path    string `json:"filename"`
	Inputs  []Node `json:"inputs"`
	Outputs []Node `json:"outputs"`
}

func (g Graph) Input(name string) (Node, bool)  { return findNode(g.Inputs, name) }
func (g Graph) Output(name string) (Node, bool) { return findNode(g.Outputs, name) }

// Require reports the first input or output name the graph does not declare.
func (g Graph) Require(inputs, outputs []string) error {
	for _, name := range inputs {
		if _, ok := g.Input(name); !ok {
			return fmt.Errorf("onnx: graph %q lacks input %q", g.Name, name)
		}
	}

	for _, name := range outputs {
		if _, ok := g.Output(name); !ok {
			return fmt.Errorf("onnx: graph %q lacks output %q", g.Name, name)
		}
	}

	return nil
}

func (g Graph) clone() Graph {
	g.Inputs = append([]Node(nil), g.Inputs...)
	g.Outputs = append([]Node(nil), g.Outputs...)
	return g
}

// Bundle is a parsed manifest.json naming the graphs of an exported model.
// Graph paths are resolved against the manifest directory.
type Bundle struct {
	path   string
	graphs []Graph
}

func LoadBundle(manifestPath string) (*Bundle, error) {
	if manifestPath == "" {
		return nil, errors.New("onnx: manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read manifest: %w", err)
	}

	var raw struct {
		Graphs []Graph `json:"graphs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("onnx: decode manifest %s: %w", manifestPath, err)
	}

	if len(raw.Graphs) == 0 {
		return nil, fmt.Errorf("onnx: manifest %s lists no graphs", manifestPath)
	}

	b := &Bundle{path: manifestPath}
	seen := make(map[string]bool, len(raw.Graphs))
	dir := filepath.Dir(manifestPath)

	for _, g := range raw.Graphs {
		switch {
		case g.Name == "":
			return nil, errors.New("onnx: manifest graph has empty name")
		case g.Path == "":
			return nil, fmt.Errorf("onnx: graph %q has empty filename", g.Name)
		case seen[g.Name]:
			return nil, fmt.Errorf("onnx: graph %q listed twice", g.Name)
		}

		seen[g.Name] = true

		if !filepath.IsAbs(g.Path) {
			g.Path = filepath.Join(dir, g.Path)
		}

		g.Path = filepath.Clean(g.Path)
		if _, err := os.Stat(g.Path); err != nil {
			return nil, fmt.Errorf("onnx: graph %q: %w", g.Name, err)
		}

		for _, n := range append(append([]Node(nil), g.Inputs...), g.Outputs...) {
			if _, err := canonicalDType(n.DType); err != nil {
				return nil, fmt.Errorf("onnx: graph %q node %q: %w", g.Name, n.Name, err)
			}
		}

		b.graphs = append(b.graphs, g.clone())

		slog.Debug("onnx graph",
			"name", g.Name,
			"path", g.Path,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return b, nil
}

func (b *Bundle) Path() string { return b.path }

func (b *Bundle) Graph(name string) (Graph, bool) {
	for _, g := range b.graphs {
		if g.Name == name {
			return g.clone(), true
		}
	}

	return Graph{}, false
}

// Graphs returns copies in manifest order.
func (b *Bundle) Graphs() []Graph {
	out := make([]Graph, len(b.graphs))
	for i, g := range b.graphs {
		out[i] = g.clone()
	}

	return out
}

func findNode(nodes []Node, name string) (Node, bool) {
	for _, n := range nodes {
		if n.Name == name {
			return n, true
		}
	}

	return Node{}, false
}

func nodeNames(nodes []Node) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}

	return strings.Join(names, ",")
}
