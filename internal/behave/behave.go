// Package behave reads behaviour scenario files: tests and submissions
// written inline in TOML together with the outcome they must produce.
package behave

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/programme-lv/grader/api"
)

// SpecFile is a file attached to a test or submission. Either Content is
// written out, or Path (relative to the scenario file) is used as is.
type SpecFile struct {
	Name    string `toml:"name"`
	Key     string `toml:"key"`
	Content string `toml:"content"`
	Path    string `toml:"path"`
}

// SpecTest is the test block of a scenario.
type SpecTest struct {
	ID        string               `toml:"id"`
	Name      string               `toml:"name"`
	MaxScore  float64              `toml:"max_score"`
	Builder   api.BuilderConfig    `toml:"builder"`
	Tester    api.TesterConfig     `toml:"tester"`
	Reporters []api.ReporterConfig `toml:"reporters"`
	Limits    api.Limits           `toml:"limits"`
	Files     []SpecFile           `toml:"files"`
}

// SpecSubmission is the submission block of a scenario.
type SpecSubmission struct {
	Owner string     `toml:"owner"`
	Files []SpecFile `toml:"files"`
}

// SpecExpect is the outcome a scenario must produce. Unset fields are not
// checked.
type SpecExpect struct {
	Status  string   `toml:"status"`
	Score   *float64 `toml:"score"`
	Retcode *int     `toml:"retcode"`
	Output  []string `toml:"output_contains"`
}

type specScenario struct {
	Description string         `toml:"description"`
	Test        SpecTest       `toml:"test"`
	Submission  SpecSubmission `toml:"submission"`
	Expect      SpecExpect     `toml:"expect"`
}

type specRoot struct {
	Scenarios []specScenario `toml:"scenarios"`
}

// Case is a runnable scenario.
type Case struct {
	Name       string
	Test       api.Test
	Submission api.Submission
	Expect     SpecExpect
}

// Parse reads a behaviour file and converts it to runnable cases. Inline
// file contents are written below dir.
func Parse(path, dir string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if len(root.Scenarios) == 0 {
		return nil, fmt.Errorf("%s contains no scenarios", path)
	}

	base := filepath.Dir(path)
	cases := make([]Case, 0, len(root.Scenarios))
	for i, sc := range root.Scenarios {
		name := sc.Description
		if name == "" {
			name = fmt.Sprintf("scenario %d", i+1)
		}
		c, err := sc.toCase(base, filepath.Join(dir, fmt.Sprintf("%03d", i)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		c.Name = name
		cases = append(cases, c)
	}
	return cases, nil
}

func (sc specScenario) toCase(base, dir string) (Case, error) {
	if sc.Expect.Status != "" && !api.Status(sc.Expect.Status).Valid() {
		return Case{}, fmt.Errorf("unknown expected status %q", sc.Expect.Status)
	}
	if sc.Test.Tester.Kind == "" {
		return Case{}, fmt.Errorf("test.tester.kind is required")
	}

	testID := sc.Test.ID
	if testID == "" {
		testID = uuid.NewString()
	}
	test := api.Test{
		ID:        testID,
		Name:      sc.Test.Name,
		MaxScore:  sc.Test.MaxScore,
		Builder:   sc.Test.Builder,
		Tester:    sc.Test.Tester,
		Reporters: sc.Test.Reporters,
		Limits:    sc.Test.Limits,
	}
	sub := api.Submission{
		ID:    uuid.NewString(),
		Owner: sc.Submission.Owner,
	}

	var err error
	if test.Files, err = materialize(sc.Test.Files, base, filepath.Join(dir, "test")); err != nil {
		return Case{}, err
	}
	if sub.Files, err = materialize(sc.Submission.Files, base, filepath.Join(dir, "submission")); err != nil {
		return Case{}, err
	}
	return Case{Test: test, Submission: sub, Expect: sc.Expect}, nil
}

func materialize(files []SpecFile, base, dir string) ([]api.File, error) {
	res := make([]api.File, 0, len(files))
	for _, f := range files {
		if f.Name == "" {
			return nil, fmt.Errorf("file without a name")
		}
		file := api.File{ID: uuid.NewString(), Name: f.Name, Key: f.Key}
		switch {
		case f.Path != "" && f.Content != "":
			return nil, fmt.Errorf("file %s: content and path are exclusive", f.Name)
		case f.Path != "":
			file.Path = f.Path
			if !filepath.IsAbs(f.Path) && !strings.Contains(f.Path, "://") {
				file.Path = filepath.Join(base, f.Path)
			}
		default:
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			file.Path = filepath.Join(dir, filepath.Base(f.Name))
			if err := os.WriteFile(file.Path, []byte(f.Content), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", f.Name, err)
			}
		}
		res = append(res, file)
	}
	return res, nil
}

// Check compares a finished run against the expectation and returns one
// line per mismatch.
func (e SpecExpect) Check(run api.Run) []string {
	var diffs []string
	if e.Status != "" && api.Status(e.Status) != run.Status {
		diffs = append(diffs, fmt.Sprintf("status: expected %s, got %s", e.Status, run.Status))
	}
	if e.Score != nil {
		switch {
		case run.Score == nil:
			diffs = append(diffs, fmt.Sprintf("score: expected %s, got none", api.FormatScore(*e.Score)))
		case math.Abs(*run.Score-*e.Score) > 1e-9:
			diffs = append(diffs, fmt.Sprintf("score: expected %s, got %s",
				api.FormatScore(*e.Score), api.FormatScore(*run.Score)))
		}
	}
	if e.Retcode != nil && *e.Retcode != run.Retcode {
		diffs = append(diffs, fmt.Sprintf("retcode: expected %d, got %d", *e.Retcode, run.Retcode))
	}
	for _, s := range e.Output {
		if !strings.Contains(run.Output, s) {
			diffs = append(diffs, fmt.Sprintf("output: missing %q", s))
		}
	}
	return diffs
}
