package tester_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment/envtest"
	"github.com/programme-lv/grader/internal/sandbox/sandboxtest"
	"github.com/programme-lv/grader/internal/tester"
)

func TestMain(m *testing.M) {
	sandboxtest.Main(m)
}

var limits = api.Limits{CPUSeconds: 5, WallSeconds: 10}

const (
	sumProgram    = "#!/bin/sh\nread x y\necho $((x + y))\n"
	offByOne      = "#!/bin/sh\nread x y\necho $((x + y + 1))\n"
	failingSolver = "#!/bin/sh\nexit 4\n"
)

func run(t *testing.T, src *envtest.Source, test api.Test, sub api.Submission) tester.Outcome {
	t.Helper()
	tst, err := tester.DefaultRegistry().New(test, limits, nil)
	require.NoError(t, err)
	env := envtest.New(t, src, test, sub)
	out, err := tst.Run(context.Background(), env)
	require.NoError(t, err)
	return out
}

func TestUnknownKind(t *testing.T) {
	_, err := tester.DefaultRegistry().New(api.Test{Tester: api.TesterConfig{Kind: "diff"}}, limits, nil)
	require.ErrorIs(t, err, tester.ErrUnknownKind)
}

func scriptTest(src *envtest.Source, scripts ...string) api.Test {
	test := api.Test{MaxScore: 10, Tester: api.TesterConfig{Kind: api.TesterScript}}
	for i, body := range scripts {
		test.Files = append(test.Files, src.Add(fmt.Sprintf("grade%d.sh", i), api.KeyScript, body))
	}
	return test
}

func TestScriptScore(t *testing.T) {
	src := envtest.NewSource()
	out := run(t, src, scriptTest(src, "#!/bin/sh\necho checking\necho 10\n\n"), api.Submission{})
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 10.0, out.Score)
	assert.Contains(t, out.Output, "checking")
}

func TestScriptSeesSubmission(t *testing.T) {
	src := envtest.NewSource()
	sub := api.Submission{Files: []api.File{src.Add("answer.txt", api.KeySubmission, "7.5\n")}}
	out := run(t, src, scriptTest(src, "#!/bin/sh\nread s < answer.txt\necho $s\n"), sub)
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 7.5, out.Score)
}

func TestScriptFailures(t *testing.T) {
	cases := map[string]struct {
		scripts []string
		code    int
	}{
		"non-numeric": {[]string{"#!/bin/sh\necho great job\n"}, tester.FailureCode},
		"no output":   {[]string{"#!/bin/sh\n"}, tester.FailureCode},
		"exit code":   {[]string{"#!/bin/sh\necho 10\nexit 3\n"}, 3},
		"exit 125":    {[]string{"#!/bin/sh\necho 10\nexit 125\n"}, 125},
		"missing":     {nil, tester.FailureCode},
		"ambiguous":   {[]string{"#!/bin/sh\necho 1\n", "#!/bin/sh\necho 2\n"}, tester.FailureCode},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			src := envtest.NewSource()
			out := run(t, src, scriptTest(src, tc.scripts...), api.Submission{})
			assert.Equal(t, tc.code, out.Code)
			assert.Zero(t, out.Score)
		})
	}
}

func TestExplicitScriptPathWins(t *testing.T) {
	src := envtest.NewSource()
	test := scriptTest(src, "#!/bin/sh\necho 1\n", "#!/bin/sh\necho 2\n")
	test.Tester.Script = "grade1.sh"
	out := run(t, src, test, api.Submission{})
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 2.0, out.Score)

	test.Tester.Script = "../submission/grade1.sh"
	out = run(t, src, test, api.Submission{})
	assert.Equal(t, tester.FailureCode, out.Code)
}

func ioTest(src *envtest.Source, solution string, inputs int) api.Test {
	test := api.Test{MaxScore: 10, Tester: api.TesterConfig{Kind: api.TesterIO}}
	if solution != "" {
		test.Files = append(test.Files, src.Add("solution.sh", api.KeySolution, solution))
	}
	for i := 0; i < inputs; i++ {
		test.Files = append(test.Files, src.Add(fmt.Sprintf("%02d.in", i), api.KeyInput, fmt.Sprintf("%d %d\n", i, 2*i+1)))
	}
	return test
}

func submission(src *envtest.Source, body string) api.Submission {
	return api.Submission{Files: []api.File{src.Add("main.sh", api.KeySubmission, body)}}
}

func TestIOAllMatch(t *testing.T) {
	src := envtest.NewSource()
	out := run(t, src, ioTest(src, sumProgram, 4), submission(src, sumProgram))
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 10.0, out.Score)
	assert.Contains(t, out.Output, "passed 4 of 4")
}

func TestIOWrongAnswers(t *testing.T) {
	src := envtest.NewSource()
	out := run(t, src, ioTest(src, sumProgram, 10), submission(src, offByOne))
	assert.Equal(t, 0, out.Code)
	assert.Zero(t, out.Score)
	assert.Contains(t, out.Output, "passed 0 of 10")
}

func TestIOPartialScoreAndInputPrefix(t *testing.T) {
	src := envtest.NewSource()
	test := ioTest(src, sumProgram, 0)
	test.Files = append(test.Files,
		src.Add("a1.in", api.KeyInput, "1 1\n"),
		src.Add("a2.in", api.KeyInput, "0 1\n"),
		src.Add("b1.in", api.KeyInput, "5 5\n"))
	test.Tester.InputPrefix = "a"
	// prints 2 for every input
	out := run(t, src, test, submission(src, "#!/bin/sh\necho 2\n"))
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 5.0, out.Score)
}

func TestIONoInputsIsSingleCase(t *testing.T) {
	src := envtest.NewSource()
	hello := "#!/bin/sh\necho hello\n"
	out := run(t, src, ioTest(src, hello, 0), submission(src, hello+"\n\n"))
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 10.0, out.Score)
	assert.Contains(t, out.Output, "passed 1 of 1")
}

func TestIOMissingSolution(t *testing.T) {
	src := envtest.NewSource()
	out := run(t, src, ioTest(src, "", 2), submission(src, sumProgram))
	assert.Equal(t, tester.FailureCode, out.Code)
	assert.Zero(t, out.Score)
}

func TestIOAmbiguousSubmission(t *testing.T) {
	src := envtest.NewSource()
	sub := submission(src, sumProgram)
	sub.Files = append(sub.Files, src.Add("other.sh", api.KeySubmission, sumProgram))
	out := run(t, src, ioTest(src, sumProgram, 2), sub)
	assert.Equal(t, tester.FailureCode, out.Code)

	test := ioTest(src, sumProgram, 2)
	test.Tester.Submission = "other.sh"
	out = run(t, src, test, sub)
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 10.0, out.Score)
}

func TestIOSolutionFailureAccumulates(t *testing.T) {
	src := envtest.NewSource()
	out := run(t, src, ioTest(src, failingSolver, 3), submission(src, sumProgram))
	assert.Equal(t, 12, out.Code)
	assert.Zero(t, out.Score)
}

func TestIOSubmissionCrashLosesPoint(t *testing.T) {
	src := envtest.NewSource()
	crash := "#!/bin/sh\nread x y\nif [ \"$x\" = 0 ]; then exit 9; fi\necho $((x + y))\n"
	out := run(t, src, ioTest(src, sumProgram, 2), submission(src, crash))
	assert.Equal(t, 0, out.Code)
	assert.Equal(t, 5.0, out.Score)
	assert.Contains(t, out.Output, "submission exited with 9")
}

func TestIOSubmissionExitingWithLauncherCodeLosesPoint(t *testing.T) {
	src := envtest.NewSource()
	bail := "#!/bin/sh\nread x y\nif [ \"$x\" = 0 ]; then exit 125; fi\necho $((x + y))\n"
	out := run(t, src, ioTest(src, sumProgram, 3), submission(src, bail))
	assert.Equal(t, 0, out.Code)
	assert.InDelta(t, 20.0/3, out.Score, 1e-9)
	assert.Contains(t, out.Output, "00.in: submission exited with 125")
	assert.Contains(t, out.Output, "passed 2 of 3")
}
