// Package metric accumulates tagging accuracy over masked-in positions.
package metric

import (
	"fmt"
	"sort"
)

// Accuracy counts correct predictions over valid positions, overall and per
// gold tag id. The zero value is ready to use.
type Accuracy struct {
	Correct int
	Total   int

	perTag map[int]*Count
}

// Count is the tally for one gold tag.
type Count struct {
	Correct int
	Total   int
}

// Score returns Correct/Total or 0 when nothing was counted.
func (c Count) Score() float64 {
	if c.Total == 0 {
		return 0
	}

	return float64(c.Correct) / float64(c.Total)
}

// TagScore is a per-tag row of an accuracy report.
type TagScore struct {
	ID    int
	Count Count
}

// Update counts position i of sample b when mask[b][i] is true. A prediction
// row shorter than the valid length counts its missing positions as wrong.
func (a *Accuracy) Update(pred, gold [][]int, mask [][]bool) {
	if a.perTag == nil {
		a.perTag = make(map[int]*Count)
	}

	for b, row := range mask {
		for i, valid := range row {
			if !valid || b >= len(gold) || i >= len(gold[b]) {
				continue
			}

			g := gold[b][i]

			c, ok := a.perTag[g]
			if !ok {
				c = &Count{}
				a.perTag[g] = c
			}

			a.Total++
			c.Total++

			if b < len(pred) && i < len(pred[b]) && pred[b][i] == g {
				a.Correct++
				c.Correct++
			}
		}
	}
}

// Score returns overall accuracy in [0, 1].
func (a *Accuracy) Score() float64 {
	return Count{Correct: a.Correct, Total: a.Total}.Score()
}

// PerTag lists per gold tag counts ordered by id.
func (a *Accuracy) PerTag() []TagScore {
	out := make([]TagScore, 0, len(a.perTag))
	for id, c := range a.perTag {
		out = append(out, TagScore{ID: id, Count: *c})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Better reports whether a beats b. A nil b is always beaten.
func (a *Accuracy) Better(b *Accuracy) bool {
	if b == nil {
		return true
	}

	return a.Score() > b.Score()
}

// Reset clears all counts.
func (a *Accuracy) Reset() {
	a.Correct, a.Total = 0, 0
	a.perTag = nil
}

func (a *Accuracy) String() string {
	return fmt.Sprintf("accuracy: %.2f%%", a.Score()*100)
}
