package behave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programme-lv/grader/api"
)

func TestParseScenarios(t *testing.T) {
	dir := t.TempDir()
	cases, err := Parse(filepath.Join("testdata", "scenarios.toml"), dir)
	require.NoError(t, err)
	require.Len(t, cases, 3)

	first := cases[0]
	assert.Equal(t, "script tester awards the printed score", first.Name)
	assert.NotEmpty(t, first.Test.ID)
	assert.NotEmpty(t, first.Submission.ID)
	assert.Equal(t, "ann", first.Submission.Owner)
	assert.Equal(t, api.TesterScript, first.Test.Tester.Kind)
	require.Len(t, first.Test.Files, 1)
	assert.Equal(t, api.KeyScript, first.Test.Files[0].Key)

	script, err := os.ReadFile(first.Test.Files[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(script), "echo 1")
	assert.Equal(t, api.StatusComplete, api.Status(first.Expect.Status))
	require.NotNil(t, first.Expect.Score)
	assert.Equal(t, 1.0, *first.Expect.Score)

	build := cases[1]
	assert.Equal(t, api.BuilderCommand, build.Test.Builder.Kind)
	assert.Equal(t, "sh -c 'exit 3'", build.Test.Builder.Command)
	require.NotNil(t, build.Expect.Retcode)
	assert.Equal(t, 3, *build.Expect.Retcode)

	io := cases[2]
	assert.Len(t, io.Test.Files, 3)
	assert.Len(t, io.Submission.Files, 1)
	assert.NotEqual(t, io.Test.Files[0].Path, cases[0].Test.Files[0].Path)
}

func TestParseRejectsBadScenarios(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		p := filepath.Join(dir, "s.toml")
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := Parse(write(""), dir)
	require.ErrorContains(t, err, "no scenarios")

	_, err = Parse(write("[[scenarios]]\ntest = { tester = { kind = \"script\" } }\nexpect = { status = \"finished\" }\n"), dir)
	require.ErrorContains(t, err, "unknown expected status")

	_, err = Parse(write("[[scenarios]]\ndescription = \"x\"\n"), dir)
	require.ErrorContains(t, err, "tester.kind")

	_, err = Parse(write("[[scenarios]\n"), dir)
	require.ErrorContains(t, err, "failed to parse TOML")
}

func TestRelativePathsResolveAgainstScenarioFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "s.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
[[scenarios]]
[scenarios.test]
tester = { kind = "script" }
files = [
  { name = "grade.sh", key = "script", path = "scripts/grade.sh" },
  { name = "ref.txt", path = "https://example.com/ref.txt" },
]
`), 0o644))

	cases, err := Parse(p, t.TempDir())
	require.NoError(t, err)
	files := cases[0].Test.Files
	assert.Equal(t, filepath.Join(dir, "scripts", "grade.sh"), files[0].Path)
	assert.Equal(t, "https://example.com/ref.txt", files[1].Path)
}

func TestCheck(t *testing.T) {
	one, three := 1.0, 3
	e := SpecExpect{
		Status:  "complete",
		Score:   &one,
		Retcode: &three,
		Output:  []string{"ok"},
	}
	half := 0.5
	diffs := e.Check(api.Run{Status: api.StatusRunning, Score: &half, Output: "fail"})
	assert.Len(t, diffs, 4)

	diffs = e.Check(api.Run{Status: api.StatusComplete, Retcode: 3, Score: &one, Output: "all ok"})
	assert.Empty(t, diffs)

	diffs = SpecExpect{Score: &one}.Check(api.Run{})
	assert.Equal(t, []string{"score: expected 1, got none"}, diffs)
}
