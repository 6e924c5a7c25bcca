package importer

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"examhall/internal/question"
)

const DefaultDurationMinutes = 60

type examCreator interface {
	CreateExam(ctx context.Context, d question.ExamDraft) (*question.Exam, error)
}

type Service struct {
	exams           examCreator
	defaultDuration int
}

func NewService(exams examCreator, defaultDurationMinutes int) *Service {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = DefaultDurationMinutes
	}
	return &Service{exams: exams, defaultDuration: defaultDurationMinutes}
}

// Input describes a spreadsheet upload. A zero DurationMinutes takes the
// configured default. Imported exams stay unpublished unless Publish is set.
type Input struct {
	Title           string
	Description     string
	DurationMinutes int
	Publish         bool
	Grade           string
	Subject         string
	Workbook        io.Reader
}

func (s *Service) Import(ctx context.Context, in Input) (*question.Exam, error) {
	questions, err := ParseWorkbook(in.Workbook)
	if err != nil {
		return nil, err
	}
	d := question.ExamDraft{
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		DurationMinutes: in.DurationMinutes,
		Publish:         in.Publish,
		Grade:           in.Grade,
		Subject:         in.Subject,
		Questions:       questions,
	}
	if d.DurationMinutes == 0 {
		d.DurationMinutes = s.defaultDuration
	}
	return s.create(ctx, d)
}

func (s *Service) ImportManifest(ctx context.Context, r io.Reader) (*question.Exam, error) {
	d, err := ParseManifest(r)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, *d)
}

func (s *Service) create(ctx context.Context, d question.ExamDraft) (*question.Exam, error) {
	e, err := s.exams.CreateExam(ctx, d)
	if err != nil {
		return nil, err
	}
	slog.Info("exam imported", "exam_id", e.ID, "title", e.Title, "questions", e.TotalQuestions, "published", e.IsPublished)
	return e, nil
}
