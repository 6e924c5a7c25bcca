package publication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"examhall/internal/question"
)

var ErrQuestionCountMismatch = errors.New("exam question count does not match its questions")

// Gateway controls whether students can see an exam.
type Gateway struct {
	db    *sql.DB
	exams *question.Store
}

func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db, exams: question.NewStore(db)}
}

// SetPublished flips the flag in a single UPDATE. Publishing only succeeds
// while total_questions equals the number of linked questions.
func (g *Gateway) SetPublished(ctx context.Context, examID int64, published bool) (*question.Exam, error) {
	var (
		res sql.Result
		err error
	)
	if published {
		res, err = g.db.ExecContext(ctx, `
			UPDATE exams
			SET is_published = $1
			WHERE id = $2
			  AND total_questions = (SELECT COUNT(*) FROM questions WHERE exam_id = $2)
		`, true, examID)
	} else {
		res, err = g.db.ExecContext(ctx, `UPDATE exams SET is_published = $1 WHERE id = $2`, false, examID)
	}
	if err != nil {
		return nil, fmt.Errorf("update publication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update publication rows: %w", err)
	}

	e, err := g.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		slog.Warn("publication refused", "exam_id", examID, "total_questions", e.TotalQuestions)
		return nil, ErrQuestionCountMismatch
	}
	slog.Info("publication toggled", "exam_id", examID, "published", published)
	return e, nil
}
