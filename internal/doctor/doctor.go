// Package doctor runs preflight checks over a tagger installation and prints
// one line per check.
package doctor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinRuntimeVersion is the oldest ONNX Runtime whose C API the runner binds.
const MinRuntimeVersion = "v1.23.0"

// Check is a named probe. Run returns a short detail for the report line.
type Check struct {
	Name string
	Run  func() (string, error)
}

// File is a model artefact that must exist and optionally parse.
type File struct {
	Label string
	Path  string
	// Optional files pass when Path is empty.
	Optional bool
	Validate func(path string) error
}

// Config lists what Run checks, in order: the runtime, the files, then the
// extra checks.
type Config struct {
	// Runtime returns the detected ONNX Runtime version. Nil skips the check.
	Runtime func() (string, error)
	Files   []File
	Checks  []Check
}

type Outcome struct {
	Name   string
	Detail string
	Err    error
}

type Report struct {
	Outcomes []Outcome
}

func (r Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}

	return false
}

// Failures formats each failed outcome as "name: error".
func (r Report) Failures() []string {
	var out []string

	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, fmt.Sprintf("%s: %v", o.Name, o.Err))
		}
	}

	return out
}

// Run executes every check and writes a PassMark or FailMark line for each.
func Run(cfg Config, w io.Writer) Report {
	checks := make([]Check, 0, len(cfg.Files)+len(cfg.Checks)+1)

	checks = append(checks, runtimeCheck(cfg.Runtime))
	for _, f := range cfg.Files {
		checks = append(checks, fileCheck(f))
	}

	checks = append(checks, cfg.Checks...)

	var rep Report

	for _, c := range checks {
		detail, err := c.Run()
		rep.Outcomes = append(rep.Outcomes, Outcome{Name: c.Name, Detail: detail, Err: err})

		if err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, c.Name, err)
			continue
		}

		fmt.Fprintf(w, "%s %s: %s\n", PassMark, c.Name, detail)
	}

	return rep
}

func runtimeCheck(version func() (string, error)) Check {
	return Check{Name: "onnx runtime", Run: func() (string, error) {
		if version == nil {
			return "skipped", nil
		}

		ver, err := version()
		if err != nil {
			return "", err
		}

		if ver == "" || ver == "unknown" {
			return "version unknown", nil
		}

		return ver, checkRuntimeVersion(ver)
	}}
}

func fileCheck(f File) Check {
	return Check{Name: f.Label, Run: func() (string, error) {
		if f.Path == "" {
			if f.Optional {
				return "not configured", nil
			}

			return "", errors.New("path not configured")
		}

		if _, err := os.Stat(f.Path); err != nil {
			return "", err
		}

		if f.Validate != nil {
			if err := f.Validate(f.Path); err != nil {
				return "", fmt.Errorf("%s: %w", f.Path, err)
			}
		}

		return f.Path, nil
	}}
}

// checkRuntimeVersion accepts 1.x releases from MinRuntimeVersion on. A
// leading "v" is optional.
func checkRuntimeVersion(ver string) error {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(ver), "v")
	if !semver.IsValid(v) {
		return fmt.Errorf("cannot parse version %q", ver)
	}

	if semver.Major(v) != semver.Major(MinRuntimeVersion) {
		return fmt.Errorf("requires ONNX Runtime %s.x, got %s", semver.Major(MinRuntimeVersion), ver)
	}

	if semver.Compare(v, MinRuntimeVersion) < 0 {
		return fmt.Errorf("requires ONNX Runtime >= %s, got %s", MinRuntimeVersion, ver)
	}

	return nil
}
