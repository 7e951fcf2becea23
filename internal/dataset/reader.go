package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadTSV reads a CoNLL-style corpus: one token per line with its tag in the
// last tab-separated column, sentences separated by blank lines. Lines with a
// single column produce unlabelled samples; a sentence must not mix both.
func ReadTSV(r io.Reader) ([]Sample, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out      []Sample
		cur      Sample
		labelled bool
		lineNo   int
	)

	flush := func() {
		if len(cur.Tokens) == 0 {
			return
		}

		if !labelled {
			cur.Tags = nil
		}

		cur.Index = len(out)
		out = append(out, cur)
		cur = Sample{}
	}

	for sc.Scan() {
		lineNo++

		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		fields := strings.Split(line, "\t")
		token := strings.TrimSpace(fields[0])

		if token == "" {
			return nil, fmt.Errorf("dataset: line %d: empty token", lineNo)
		}

		hasTag := len(fields) > 1
		if len(cur.Tokens) == 0 {
			labelled = hasTag
		} else if hasTag != labelled {
			return nil, fmt.Errorf("dataset: line %d: sentence mixes tagged and untagged tokens", lineNo)
		}

		cur.Tokens = append(cur.Tokens, token)

		if hasTag {
			tag := strings.TrimSpace(fields[len(fields)-1])
			if tag == "" {
				return nil, fmt.Errorf("dataset: line %d: empty tag", lineNo)
			}

			cur.Tags = append(cur.Tags, tag)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read: %w", err)
	}

	flush()

	return out, nil
}

// ReadTSVFile reads a corpus from path.
func ReadTSVFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	samples, err := ReadTSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return samples, nil
}
