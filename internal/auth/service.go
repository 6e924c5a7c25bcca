package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	internaldb "examhall/internal/db"
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"

	MinPasswordLength = 6
	DefaultSessionTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrPasswordTooShort   = errors.New("password too short")
)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

type RegisterInput struct {
	FullName string
	Email    string
	Password string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := normalizeEmail(in.Email)
	if fullName == "" || email == "" || in.Password == "" {
		return nil, ErrInvalidInput
	}
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := User{Email: email, FullName: fullName, Role: RoleStudent, CreatedAt: s.now()}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.Email, string(hash), u.FullName, u.Role, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	slog.Info("user registered", "user_id", u.ID)
	return &u, nil
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		u            User
		passwordHash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, created_at, password_hash
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// EnsureAdmin creates the account or promotes an existing one and resets its password.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, fullName string) (*User, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if strings.TrimSpace(fullName) == "" {
		fullName = "Administrator"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	u := User{Email: email, FullName: strings.TrimSpace(fullName), Role: RoleAdmin}
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE email = $1`, email).Scan(&u.ID, &u.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		u.CreatedAt = s.now()
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO users (email, password_hash, full_name, role, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, u.Email, string(hash), u.FullName, u.Role, u.CreatedAt).Scan(&u.ID); err != nil {
			return nil, fmt.Errorf("insert admin: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("query admin: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET password_hash = $1, full_name = $2, role = $3 WHERE id = $4
		`, string(hash), u.FullName, u.Role, u.ID); err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit admin: %w", err)
	}
	slog.Info("admin ensured", "user_id", u.ID, "email", u.Email)
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	expiresAt := now.Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, userID, hashToken(token), expiresAt, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.full_name, u.role, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > $2
	`, hashToken(token), s.now()).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $1
		WHERE token_hash = $2
		  AND revoked_at IS NULL
	`, s.now(), hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
