package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	"github.com/xhad/assessor/pkg/llm"
)

type Grader struct {
	oracle   types.Oracle
	maxChars int
	logger   zerolog.Logger
}

func NewGrader(oracle types.Oracle, maxChars int, logger zerolog.Logger) *Grader {
	if maxChars == 0 {
		maxChars = 6000
	}
	return &Grader{oracle: oracle, maxChars: maxChars, logger: logger}
}

func (g *Grader) Grade(ctx context.Context, in GradingInput) (*models.GradeReport, error) {
	answer, err := g.oracle.Complete(ctx, gradingPrompt(in, g.maxChars), types.SchemaHint{
		Name:   "grade",
		Schema: gradeSchema,
	})
	if err != nil {
		return nil, err
	}
	return ParseGrade(answer)
}

type gradeJSON struct {
	Grade    *float64 `json:"grade"`
	Score    *float64 `json:"score"`
	Letter   string   `json:"letter"`
	Feedback string   `json:"feedback"`
}

var (
	gradeLine     = regexp.MustCompile(`(?im)^[ \t*#]*GRADE[ \t*]*[:=][ \t*]*(-?\d+(?:\.\d+)?)`)
	feedbackBlock = regexp.MustCompile(`(?is)FEEDBACK[ \t*]*:[ \t*]*(.+)$`)
	validLetter   = regexp.MustCompile(`^[A-DF][+-]?$`)
)

// ParseGrade accepts a JSON answer or the GRADE:/FEEDBACK: text format.
func ParseGrade(answer string) (*models.GradeReport, error) {
	report, err := parseGradeJSON(answer)
	if err != nil {
		report, err = parseGradeText(answer)
	}
	if err != nil {
		return nil, err
	}

	if report.Score < 0 || report.Score > 100 {
		return nil, llm.Malformed(fmt.Sprintf("grade %v outside 0-100", report.Score), nil)
	}
	report.Feedback = strings.TrimSpace(report.Feedback)
	if report.Feedback == "" {
		return nil, llm.Malformed("grade has no feedback", nil)
	}
	report.Letter = strings.ToUpper(strings.TrimSpace(report.Letter))
	if !validLetter.MatchString(report.Letter) {
		report.Letter = Letter(report.Score)
	}
	return report, nil
}

func parseGradeJSON(answer string) (*models.GradeReport, error) {
	raw, ok := extractJSON(answer)
	if !ok {
		return nil, llm.Malformed("grade is not json", nil)
	}
	var g gradeJSON
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, llm.Malformed("grade is not valid json", err)
	}
	score := g.Grade
	if score == nil {
		score = g.Score
	}
	if score == nil {
		return nil, llm.Malformed("grade json has no grade", nil)
	}
	return &models.GradeReport{Score: *score, Letter: g.Letter, Feedback: g.Feedback}, nil
}

func parseGradeText(answer string) (*models.GradeReport, error) {
	m := gradeLine.FindStringSubmatch(answer)
	if m == nil {
		return nil, llm.Malformed("no GRADE line in answer", nil)
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, llm.Malformed("unreadable grade", err)
	}

	feedback := ""
	if f := feedbackBlock.FindStringSubmatch(answer); f != nil {
		feedback = f[1]
	}
	return &models.GradeReport{Score: score, Feedback: feedback}, nil
}

// Letter maps a 0-100 score to a letter grade.
func Letter(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
