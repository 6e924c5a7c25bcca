package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"examhall/internal/question"
)

var (
	ErrEmptyWorkbook = errors.New("workbook has no question rows")
	ErrInvalidFile   = errors.New("file is not a readable workbook")
)

var (
	optionColumns = []string{"optiona", "optionb", "optionc", "optiond"}
	templateHead  = []string{"question", "optionA", "optionB", "optionC", "optionD", "correctAnswer"}
)

// RowProblem points at one bad cell. Row is the 1-based sheet row.
type RowProblem struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// ImportError lists every problem found in a file. Nothing is stored when
// it is returned.
type ImportError struct {
	Problems []RowProblem `json:"problems"`
}

func (e *ImportError) Error() string {
	if len(e.Problems) == 1 {
		p := e.Problems[0]
		return fmt.Sprintf("import: row %d: %s", p.Row, p.Message)
	}
	return fmt.Sprintf("import: %d invalid rows, first at row %d: %s", len(e.Problems), e.Problems[0].Row, e.Problems[0].Message)
}

func (e *ImportError) add(row int, column, format string, args ...any) {
	e.Problems = append(e.Problems, RowProblem{Row: row, Column: column, Message: fmt.Sprintf(format, args...)})
}

// ParseWorkbook reads questions from the first sheet. Headers are matched
// case-insensitively and blank rows are skipped.
func ParseWorkbook(r io.Reader) ([]question.QuestionDraft, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ierr := &ImportError{}
	for _, col := range append([]string{"question"}, append(optionColumns, "correctanswer")...) {
		if _, ok := header[col]; !ok {
			ierr.add(1, col, "missing required column: %s", col)
		}
	}
	if len(ierr.Problems) > 0 {
		return nil, ierr
	}

	out := make([]question.QuestionDraft, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if blankRow(row) {
			continue
		}

		text := get("question")
		if text == "" {
			ierr.add(rowNo, "question", "question is required")
		}
		opts := make([]question.OptionDraft, 0, len(optionColumns))
		for _, col := range optionColumns {
			v := get(col)
			if v == "" {
				ierr.add(rowNo, col, "%s is required", col)
			}
			opts = append(opts, question.OptionDraft{Text: v})
		}
		answer := strings.ToUpper(get("correctanswer"))
		switch {
		case answer == "":
			ierr.add(rowNo, "correctanswer", "correctAnswer is required")
		case len(answer) != 1 || answer[0] < 'A' || answer[0] > 'D':
			ierr.add(rowNo, "correctanswer", "correctAnswer must be A, B, C or D, got %q", answer)
		default:
			opts[answer[0]-'A'].IsCorrect = true
		}
		out = append(out, question.QuestionDraft{Text: text, Options: opts})
	}

	if len(ierr.Problems) > 0 {
		return nil, ierr
	}
	if len(out) == 0 {
		return nil, ErrEmptyWorkbook
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// TemplateWorkbook returns an xlsx with the expected header and one sample row.
func TemplateWorkbook() ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := writeTemplate(f, f.GetSheetName(0)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTemplate(f *excelize.File, sheet string) error {
	sample := []string{"2 + 2 = ?", "3", "4", "5", "6", "B"}
	for row, values := range [][]string{templateHead, sample} {
		cell, err := excelize.CoordinatesToCellName(1, row+1)
		if err != nil {
			return fmt.Errorf("template cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write template row %d: %w", row+1, err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "A", 40); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheet, "B", "F", 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}
