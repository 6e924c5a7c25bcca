package exam

import (
	"fmt"
	"math"
	"sort"

	"examhall/internal/question"
)

const (
	ReasonCorrect       = "correct"
	ReasonWrong         = "wrong"
	ReasonUnanswered    = "unanswered"
	ReasonForeignOption = "foreign_option"
)

// DefaultPassPercentage is the minimum rounded percentage that counts as a pass.
const DefaultPassPercentage = 50

// AnswerKey is the authoritative correctness data for one exam.
type AnswerKey struct {
	ExamID         int64
	TotalQuestions int
	order          []int64
	correct        map[int64]int64
	options        map[int64]map[int64]struct{}
}

// NewAnswerKey extracts the correct option for every question. It fails when a
// question has zero or several correct options.
func NewAnswerKey(examID int64, totalQuestions int, questions []question.Question) (*AnswerKey, error) {
	k := &AnswerKey{
		ExamID:         examID,
		TotalQuestions: totalQuestions,
		order:          make([]int64, 0, len(questions)),
		correct:        make(map[int64]int64, len(questions)),
		options:        make(map[int64]map[int64]struct{}, len(questions)),
	}
	for _, q := range questions {
		opt, err := q.CorrectOption()
		if err != nil {
			return nil, err
		}
		if _, dup := k.correct[q.ID]; dup {
			return nil, fmt.Errorf("question %d listed twice", q.ID)
		}
		k.order = append(k.order, q.ID)
		k.correct[q.ID] = opt.ID
		set := make(map[int64]struct{}, len(q.Options))
		for _, o := range q.Options {
			set[o.ID] = struct{}{}
		}
		k.options[q.ID] = set
	}
	return k, nil
}

func (k *AnswerKey) HasQuestion(questionID int64) bool {
	_, ok := k.correct[questionID]
	return ok
}

func (k *AnswerKey) HasOption(questionID, optionID int64) bool {
	_, ok := k.options[questionID][optionID]
	return ok
}

type ItemResult struct {
	QuestionID int64  `json:"question_id"`
	Selected   int64  `json:"selected_option_id,omitempty"`
	Correct    int64  `json:"correct_option_id"`
	Reason     string `json:"reason"`
}

type Result struct {
	ExamID         int64        `json:"exam_id"`
	Score          int          `json:"score"`
	TotalQuestions int          `json:"total_questions"`
	Items          []ItemResult `json:"items"`
	Ignored        []int64      `json:"ignored,omitempty"`
}

// Score grades answers (question id to selected option id) against key. It is
// pure: the same inputs always yield the same Result. Unanswered questions earn
// nothing, and TotalQuestions always comes from the key.
func Score(key *AnswerKey, answers map[int64]int64) Result {
	res := Result{
		ExamID:         key.ExamID,
		TotalQuestions: key.TotalQuestions,
		Items:          make([]ItemResult, 0, len(key.order)),
	}
	for _, qID := range key.order {
		item := ItemResult{QuestionID: qID, Correct: key.correct[qID]}
		selected, answered := answers[qID]
		switch {
		case !answered:
			item.Reason = ReasonUnanswered
		case !key.HasOption(qID, selected):
			item.Selected = selected
			item.Reason = ReasonForeignOption
		case selected == item.Correct:
			item.Selected = selected
			item.Reason = ReasonCorrect
			res.Score++
		default:
			item.Selected = selected
			item.Reason = ReasonWrong
		}
		res.Items = append(res.Items, item)
	}

	for qID := range answers {
		if !key.HasQuestion(qID) {
			res.Ignored = append(res.Ignored, qID)
		}
	}
	sort.Slice(res.Ignored, func(i, j int) bool { return res.Ignored[i] < res.Ignored[j] })

	if res.Score > res.TotalQuestions {
		res.Score = res.TotalQuestions
	}
	return res
}

// Percentage is round(score/total*100), or 0 for an empty exam.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}

func Passed(percentage, threshold int) bool {
	return percentage >= threshold
}
