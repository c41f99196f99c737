package reporter_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/reporter"
	"github.com/programme-lv/grader/internal/reporter/mocks"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func moodle(t *testing.T, lms reporter.LMS, respect bool) reporter.Reporter {
	t.Helper()
	r, err := reporter.DefaultRegistry(lms, clock, nil).New(api.ReporterConfig{
		Kind:           api.ReporterMoodle,
		AssignmentID:   "42",
		RespectDueDate: respect,
	})
	require.NoError(t, err)
	return r
}

func TestRegistry(t *testing.T) {
	reg := reporter.DefaultRegistry(nil, nil, nil)

	r, err := reg.New(api.ReporterConfig{Kind: api.ReporterNone})
	require.NoError(t, err)
	assert.NoError(t, r.FileReport(context.Background(), "u", 1, "c"))

	_, err = reg.New(api.ReporterConfig{Kind: "canvas"})
	require.ErrorIs(t, err, reporter.ErrUnknownKind)

	_, err = reg.New(api.ReporterConfig{Kind: api.ReporterMoodle})
	require.Error(t, err)
}

func TestMoodleFilesGrade(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	due := now.Add(time.Hour)
	lms.EXPECT().DueDate(gomock.Any(), "42").Return(&due, nil)
	lms.EXPECT().SaveGrade(gomock.Any(), "42", "7", 9.5, "well done").Return(nil)

	require.NoError(t, moodle(t, lms, true).FileReport(context.Background(), "7", 9.5, "well done"))
}

func TestMoodleNoDueDate(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	lms.EXPECT().DueDate(gomock.Any(), "42").Return(nil, nil)
	lms.EXPECT().SaveGrade(gomock.Any(), "42", "7", 1.0, gomock.Any()).Return(nil)

	require.NoError(t, moodle(t, lms, true).FileReport(context.Background(), "7", 1, ""))
}

func TestMoodlePastDue(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	due := now.Add(-time.Minute)
	lms.EXPECT().DueDate(gomock.Any(), "42").Return(&due, nil)

	err := moodle(t, lms, true).FileReport(context.Background(), "7", 10, "")
	require.ErrorIs(t, err, reporter.ErrPastDue)
}

func TestMoodleIgnoresDueDateWhenNotRespected(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	lms.EXPECT().SaveGrade(gomock.Any(), "42", "7", 10.0, "").Return(nil)

	require.NoError(t, moodle(t, lms, false).FileReport(context.Background(), "7", 10, ""))
}

func TestMoodleErrorsPropagate(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	lms.EXPECT().DueDate(gomock.Any(), "42").Return(nil, reporter.ErrAssignmentNotFound)
	err := moodle(t, lms, true).FileReport(context.Background(), "7", 10, "")
	require.ErrorIs(t, err, reporter.ErrAssignmentNotFound)

	boom := errors.New("boom")
	lms.EXPECT().SaveGrade(gomock.Any(), "42", "7", 10.0, "").Return(boom)
	err = moodle(t, lms, false).FileReport(context.Background(), "7", 10, "")
	require.ErrorIs(t, err, boom)
}

func TestMoodleTruncatesComment(t *testing.T) {
	ctrl := gomock.NewController(t)
	lms := mocks.NewMockLMS(ctrl)
	long := strings.Repeat("ā", reporter.MaxCommentLen+10)
	lms.EXPECT().SaveGrade(gomock.Any(), "42", "7", 10.0, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ float64, comment string) error {
			assert.Equal(t, reporter.MaxCommentLen, utf8.RuneCountInString(comment))
			assert.True(t, strings.HasSuffix(comment, reporter.TruncationMarker))
			return nil
		})
	require.NoError(t, moodle(t, lms, false).FileReport(context.Background(), "7", 10, long))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", reporter.Truncate("short", 10))
	assert.Equal(t, "abcde[...]", reporter.Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "[..", reporter.Truncate("abcdefghijklmnop", 3))
}

func TestTranscript(t *testing.T) {
	score := 7.5
	run := api.Run{ID: "r1", Status: api.StatusComplete, Score: &score, Output: "passed 3 of 4\n"}
	test := api.Test{ID: "t1", AssignmentID: "a1", Name: "sums", MaxScore: 10}
	sub := api.Submission{ID: "s1"}

	got := reporter.Transcript(run, test, sub)
	for _, want := range []string{
		"Assignment: a1", "Test: t1 (sums)", "Submission: s1", "Run: r1",
		"Score: 7.5 / 10", "Return code: 0", "Status: complete", "passed 3 of 4",
	} {
		assert.Contains(t, got, want)
	}
}
