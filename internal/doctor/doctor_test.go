package doctor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-tagger/internal/doctor"
)

var errNotFound = errors.New("library not found")

func existingFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tags.json")
	if err := os.WriteFile(path, []byte(`["O"]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	return path
}

func version(v string, err error) func() (string, error) {
	return func() (string, error) { return v, err }
}

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		Runtime: version("1.23.1", nil),
		Files:   []doctor.File{{Label: "tags", Path: existingFile(t)}},
		Checks: []doctor.Check{{Name: "checkpoint checksums", Run: func() (string, error) {
			return "3 files", nil
		}}},
	}

	var out strings.Builder

	rep := doctor.Run(cfg, &out)
	if rep.Failed() {
		t.Fatalf("failures: %v", rep.Failures())
	}

	if len(rep.Outcomes) != 3 {
		t.Fatalf("outcomes = %+v, want runtime, tags and checksums", rep.Outcomes)
	}

	for _, want := range []string{"onnx runtime: 1.23.1", "checkpoint checksums: 3 files"} {
		if !strings.Contains(out.String(), doctor.PassMark+" "+want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_Runtime(t *testing.T) {
	cases := []struct {
		name     string
		probe    func() (string, error)
		wantFail bool
		wantOut  string
	}{
		{"missing", version("", errNotFound), true, "library not found"},
		{"minimum", version("1.23.0", nil), false, "onnx runtime: 1.23.0"},
		{"newer with v prefix", version("v1.24.2", nil), false, "onnx runtime: v1.24.2"},
		{"too old", version("1.16.3", nil), true, "requires ONNX Runtime >= v1.23.0"},
		{"major 2", version("2.0.0", nil), true, "requires ONNX Runtime v1.x"},
		{"garbage", version("abc", nil), true, "cannot parse"},
		{"unknown version", version("unknown", nil), false, "version unknown"},
		{"skipped", nil, false, "onnx runtime: skipped"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out strings.Builder

			rep := doctor.Run(doctor.Config{Runtime: tc.probe}, &out)
			if rep.Failed() != tc.wantFail {
				t.Fatalf("Failed() = %v; failures: %v", rep.Failed(), rep.Failures())
			}

			if tc.wantFail && !strings.HasPrefix(rep.Failures()[0], "onnx runtime: ") {
				t.Errorf("failure = %q", rep.Failures()[0])
			}

			if !strings.Contains(out.String(), tc.wantOut) {
				t.Errorf("output missing %q:\n%s", tc.wantOut, out.String())
			}
		})
	}
}

func TestRun_Files(t *testing.T) {
	present := existingFile(t)

	cases := []struct {
		name     string
		file     doctor.File
		wantFail bool
	}{
		{"present", doctor.File{Label: "tags", Path: present}, false},
		{"missing", doctor.File{Label: "tags", Path: "/nonexistent/tags.json"}, true},
		{"optional unset", doctor.File{Label: "dictionary", Optional: true}, false},
		{"required unset", doctor.File{Label: "tags"}, true},
		{"optional set but missing", doctor.File{Label: "dictionary", Path: "/nonexistent/dict.json", Optional: true}, true},
		{
			"validation fails",
			doctor.File{Label: "tags", Path: present, Validate: func(string) error { return errors.New("bad json") }},
			true,
		},
		{
			"validation passes",
			doctor.File{Label: "tags", Path: present, Validate: func(string) error { return nil }},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out strings.Builder

			rep := doctor.Run(doctor.Config{Files: []doctor.File{tc.file}}, &out)
			if rep.Failed() != tc.wantFail {
				t.Fatalf("Failed() = %v; failures: %v\n%s", rep.Failed(), rep.Failures(), out.String())
			}

			if tc.wantFail && !strings.HasPrefix(rep.Failures()[0], tc.file.Label+": ") {
				t.Errorf("failure should name %q: %v", tc.file.Label, rep.Failures())
			}
		})
	}
}

func TestRun_MarksEachLine(t *testing.T) {
	cfg := doctor.Config{
		Runtime: version("", errNotFound),
		Files:   []doctor.File{{Label: "tags", Path: existingFile(t)}},
	}

	var out strings.Builder
	doctor.Run(cfg, &out)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}

	if !strings.HasPrefix(lines[0], doctor.FailMark) || !strings.HasPrefix(lines[1], doctor.PassMark) {
		t.Errorf("marks wrong:\n%s", out.String())
	}
}
