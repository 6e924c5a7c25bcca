package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	internaldb "examhall/internal/db"
	"examhall/internal/question"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("onboarding already completed")
	ErrInvalidProfile  = errors.New("invalid profile")
)

type Profile struct {
	UserID              int64     `json:"user_id"`
	Grade               string    `json:"grade"`
	Semester            string    `json:"semester"`
	Subject             string    `json:"subject"`
	Gender              Gender    `json:"gender"`
	CompletedOnboarding bool      `json:"completed_onboarding"`
	CreatedAt           time.Time `json:"created_at"`
	Palette             Palette   `json:"palette"`
}

type Input struct {
	Grade    string
	Semester string
	Subject  string
	Gender   string
}

type Store struct {
	db      *sql.DB
	catalog Catalog
	now     func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:      db,
		catalog: DefaultCatalog(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Catalog() Catalog { return s.catalog }

func (s *Store) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	var (
		p      Profile
		gender string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, grade, semester, subject, gender, completed_onboarding, created_at
		FROM student_profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Grade, &p.Semester, &p.Subject, &gender, &p.CompletedOnboarding, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if p.Gender, err = ParseGender(gender); err != nil {
		return nil, fmt.Errorf("profile %d: %w", userID, err)
	}
	p.Palette = PaletteFor(p.Gender)
	return &p, nil
}

// CreateProfile stores the onboarding answers. A profile is written once.
func (s *Store) CreateProfile(ctx context.Context, userID int64, in Input) (*Profile, error) {
	gender, err := ParseGender(in.Gender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	p := Profile{
		UserID:              userID,
		Grade:               strings.TrimSpace(in.Grade),
		Semester:            strings.TrimSpace(in.Semester),
		Subject:             strings.TrimSpace(in.Subject),
		Gender:              gender,
		CompletedOnboarding: true,
		CreatedAt:           s.now(),
	}
	switch {
	case !s.catalog.HasGrade(p.Grade):
		return nil, fmt.Errorf("%w: unknown grade %q", ErrInvalidProfile, p.Grade)
	case !s.catalog.HasSemester(p.Semester):
		return nil, fmt.Errorf("%w: unknown semester %q", ErrInvalidProfile, p.Semester)
	case !s.catalog.HasSubject(p.Subject):
		return nil, fmt.Errorf("%w: unknown subject %q", ErrInvalidProfile, p.Subject)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO student_profiles (user_id, grade, semester, subject, gender, completed_onboarding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.UserID, p.Grade, p.Semester, p.Subject, p.Gender.String(), p.CompletedOnboarding, p.CreatedAt)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	p.Palette = PaletteFor(p.Gender)
	slog.Info("profile created", "user_id", userID, "grade", p.Grade, "subject", p.Subject)
	return &p, nil
}

// ExamFilter narrows the published list to the student's grade and subject.
// Students without a profile see every published exam.
func (s *Store) ExamFilter(ctx context.Context, userID int64) (question.Filter, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return question.Filter{}, nil
		}
		return question.Filter{}, err
	}
	return question.Filter{Grade: p.Grade, Subject: p.Subject}, nil
}
