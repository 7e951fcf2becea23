package tagger

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrOptimizer is returned by BuildOptimizer for an unknown name.
var ErrOptimizer = errors.New("tagger: optimizer must be sgd or adam")

// Optimizer yields the learning rate of each successive update.
type Optimizer interface {
	Name() string
	Step() float32
}

// BuildOptimizer returns a learning-rate schedule. "sgd" keeps lr constant,
// "adam" decays it as lr/sqrt(t).
func BuildOptimizer(name string, lr float64) (Optimizer, error) {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("tagger: learning rate must be a positive number, got %v", lr)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sgd":
		return &constantLR{lr: float32(lr)}, nil
	case "adam":
		return &decayLR{lr: lr}, nil
	default:
		return nil, fmt.Errorf("%w, got %q", ErrOptimizer, name)
	}
}

type constantLR struct {
	lr float32
}

func (o *constantLR) Name() string  { return "sgd" }
func (o *constantLR) Step() float32 { return o.lr }

type decayLR struct {
	lr float64
	t  int
}

func (o *decayLR) Name() string { return "adam" }

func (o *decayLR) Step() float32 {
	o.t++
	return float32(o.lr / math.Sqrt(float64(o.t)))
}
