package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/programme-lv/grader/api"
)

// MaxCommentLen is the longest feedback comment Moodle accepts, in runes.
const MaxCommentLen = 4096

// Moodle files grades through an LMS, refusing late submissions when the
// assignment asks for it.
type Moodle struct {
	lms            LMS
	assignmentID   string
	respectDueDate bool
	now            func() time.Time
	logger         *slog.Logger
}

func NewMoodle(lms LMS, cfg api.ReporterConfig, now func() time.Time, logger *slog.Logger) *Moodle {
	return &Moodle{
		lms:            lms,
		assignmentID:   cfg.AssignmentID,
		respectDueDate: cfg.RespectDueDate,
		now:            now,
		logger:         logger,
	}
}

func (m *Moodle) FileReport(ctx context.Context, user string, grade float64, comment string) error {
	if m.respectDueDate {
		due, err := m.lms.DueDate(ctx, m.assignmentID)
		if err != nil {
			return fmt.Errorf("get due date: %w", err)
		}
		if due != nil && m.now().After(*due) {
			return fmt.Errorf("%w: due %s", ErrPastDue, due.UTC().Format(time.RFC3339))
		}
	}
	m.logger.Info("filing grade",
		slog.String("assignment_id", m.assignmentID),
		slog.String("user", user),
		slog.Float64("grade", grade))
	if err := m.lms.SaveGrade(ctx, m.assignmentID, user, grade, Truncate(comment, MaxCommentLen)); err != nil {
		return fmt.Errorf("save grade: %w", err)
	}
	return nil
}

// MoodleClient talks to the Moodle web service REST endpoint.
type MoodleClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMoodleClient(baseURL, token string, client *http.Client) *MoodleClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MoodleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type moodleException struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (c *MoodleClient) call(ctx context.Context, function string, params url.Values, out any) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/webservice/rest/server.php", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", function, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", function, resp.Status)
	}

	var exc moodleException
	if json.Unmarshal(body, &exc) == nil && exc.Exception != "" {
		return fmt.Errorf("%s: %s: %s", function, exc.ErrorCode, exc.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", function, err)
	}
	return nil
}

type assignmentsResponse struct {
	Courses []struct {
		ID          int64 `json:"id"`
		Assignments []struct {
			ID      int64 `json:"id"`
			DueDate int64 `json:"duedate"`
		} `json:"assignments"`
	} `json:"courses"`
}

// DueDate looks the assignment up among the courses visible to the token.
// A due date of zero means the assignment has none.
func (c *MoodleClient) DueDate(ctx context.Context, assignmentID string) (*time.Time, error) {
	id, err := strconv.ParseInt(assignmentID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid assignment id %q: %w", assignmentID, err)
	}
	var resp assignmentsResponse
	if err := c.call(ctx, "mod_assign_get_assignments", url.Values{}, &resp); err != nil {
		return nil, err
	}
	for _, course := range resp.Courses {
		for _, a := range course.Assignments {
			if a.ID != id {
				continue
			}
			if a.DueDate == 0 {
				return nil, nil
			}
			due := time.Unix(a.DueDate, 0).UTC()
			return &due, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
}

// Moodle text formats.
const formatPlain = "2"

func (c *MoodleClient) SaveGrade(ctx context.Context, assignmentID, user string, grade float64, comment string) error {
	params := url.Values{}
	params.Set("assignmentid", assignmentID)
	params.Set("userid", user)
	params.Set("grade", api.FormatScore(grade))
	params.Set("attemptnumber", "-1")
	params.Set("addattempt", "0")
	params.Set("workflowstate", "")
	params.Set("applytoall", "0")
	params.Set("plugindata[assignfeedbackcomments_editor][text]", comment)
	params.Set("plugindata[assignfeedbackcomments_editor][format]", formatPlain)
	return c.call(ctx, "mod_assign_save_grade", params, nil)
}
