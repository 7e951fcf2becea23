// Package bench provides benchmarking primitives for the tagger bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Predictor tags a set of sentences.
type Predictor interface {
	Predict(ctx context.Context, input [][]string, batchSize int) ([][]string, error)
}

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing for one pass over the input.
type RunResult struct {
	Index        int
	Cold         bool // true for the first run
	Duration     time.Duration
	Sentences    int
	Tokens       int
	TokensPerSec float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	mn, mx := durations[0], durations[0]

	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}

	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Durations extracts the per-run durations.
func Durations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, len(runs))
	for i, r := range runs {
		out[i] = r.Duration
	}
	return out
}

// ---------------------------------------------------------------------------
// Throughput
// ---------------------------------------------------------------------------

// CalcThroughput returns tokens per second, or 0 for a zero duration.
func CalcThroughput(tokens int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(tokens) / d.Seconds()
}

// MeanThroughput averages TokensPerSec over runs.
func MeanThroughput(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}

	var total float64
	for _, r := range runs {
		total += r.TokensPerSec
	}
	return total / float64(len(runs))
}

// CheckThroughput returns an error if mean falls below floor.
// A floor of 0 disables the gate.
func CheckThroughput(mean, floor float64) error {
	if floor <= 0 {
		return nil
	}
	if mean < floor {
		return fmt.Errorf("mean throughput %.1f tokens/s is below %.1f", mean, floor)
	}
	return nil
}

// Run tags input runs times and records each pass.
func Run(ctx context.Context, p Predictor, input [][]string, runs, batchSize int) ([]RunResult, error) {
	if runs < 1 {
		return nil, errors.New("bench: runs must be at least 1")
	}

	tokens := 0
	for _, s := range input {
		tokens += len(s)
	}

	results := make([]RunResult, 0, runs)

	for i := range runs {
		start := time.Now()
		if _, err := p.Predict(ctx, input, batchSize); err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		dur := time.Since(start)

		results = append(results, RunResult{
			Index:        i,
			Cold:         i == 0,
			Duration:     dur,
			Sentences:    len(input),
			Tokens:       tokens,
			TokensPerSec: CalcThroughput(tokens, dur),
		})
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 1, 64)
}

// FormatTable writes a human-readable table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"RUN", "COLD", "MS", "SENTENCES", "TOKENS", "TOKENS/S"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}

		table.Append([]string{
			strconv.Itoa(r.Index + 1),
			cold,
			ms(r.Duration),
			strconv.Itoa(r.Sentences),
			strconv.Itoa(r.Tokens),
			strconv.FormatFloat(r.TokensPerSec, 'f', 1, 64),
		})
	}

	table.SetFooter([]string{"", "", "min " + ms(stats.Min), "mean " + ms(stats.Mean), "max " + ms(stats.Max), ""})
	table.Render()
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index        int     `json:"index"`
	Cold         bool    `json:"cold"`
	DurationMS   float64 `json:"duration_ms"`
	Sentences    int     `json:"sentences"`
	Tokens       int     `json:"tokens"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

type jsonStats struct {
	MinMS            float64 `json:"min_ms"`
	MeanMS           float64 `json:"mean_ms"`
	MaxMS            float64 `json:"max_ms"`
	MeanTokensPerSec float64 `json:"mean_tokens_per_sec"`
}

func msFloat(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:            msFloat(stats.Min),
			MeanMS:           msFloat(stats.Mean),
			MaxMS:            msFloat(stats.Max),
			MeanTokensPerSec: MeanThroughput(runs),
		},
	}

	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:        r.Index,
			Cold:         r.Cold,
			DurationMS:   msFloat(r.Duration),
			Sentences:    r.Sentences,
			Tokens:       r.Tokens,
			TokensPerSec: r.TokensPerSec,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
