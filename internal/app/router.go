package app

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"examhall/internal/app/apiresp"
	"examhall/internal/app/observability"
	"examhall/internal/attempt"
	"examhall/internal/auth"
	"examhall/internal/exam"
	"examhall/internal/i18n"
	"examhall/internal/importer"
	"examhall/internal/profile"
	"examhall/internal/publication"
	"examhall/internal/question"
	"examhall/internal/report"
)

func NewRouter(cfg Config, db *sql.DB, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	collector := observability.NewCollector(db, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language", csrfHeaderName},
			ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(i18n.Middleware)

	exams := question.NewStore(db)
	ledger := attempt.NewLedger(db)
	profiles := profile.NewStore(db)

	authSvc := auth.NewService(db, auth.ServiceConfig{SessionTTL: cfg.SessionTTL, BcryptCost: cfg.BcryptCost})
	authHandler := auth.NewHandler(authSvc)

	examSvc := exam.NewService(exams, ledger, exam.Config{
		PassPercentage: cfg.PassPercentage,
		Profiles:       profiles,
		Observer:       collector,
	})
	examHandler := exam.NewHandler(examSvc)
	profileHandler := profile.NewHandler(profiles)
	adminExams := question.NewHandler(exams)
	publishHandler := publication.NewHandler(publication.NewGateway(db))
	importHandler := importer.NewHandler(importer.NewService(exams, cfg.DefaultExamMinutes))
	reportHandler := report.NewHandler(report.NewService(db, ledger, exams, cfg.PassPercentage))

	authLimiter := RateLimitMiddleware(NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			apiresp.WriteErrorID(w, r, http.StatusServiceUnavailable, "InternalError")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.With(authLimiter).Post("/auth/register", authHandler.Register)
		api.With(authLimiter).Post("/auth/login", authHandler.Login)
		api.Get("/auth/csrf", IssueCSRFToken)
		api.Get("/onboarding/options", profileHandler.Options)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/student/profile", profileHandler.Get)
			secure.Post("/onboarding/complete", profileHandler.Complete)
			secure.Get("/student/attempts", examHandler.History)

			secure.Get("/exams", examHandler.List)
			secure.Get("/exams/{id}", examHandler.Paper)
			secure.Post("/exams/{id}/attempts", examHandler.Start)
			secure.Post("/exams/{id}/submit", examHandler.SubmitExam)
			secure.Post("/attempts/{id}/submit", examHandler.Submit)
			secure.Get("/results/{attemptID}", examHandler.Result)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/admin/stats", reportHandler.Stats)
				admin.Get("/admin/exams", adminExams.AdminList)
				admin.Post("/admin/exams", adminExams.Create)
				admin.Post("/admin/exams/import", importHandler.Import)
				admin.Get("/admin/exams/import/template", importHandler.Template)
				admin.Post("/admin/exams/{id}/publish", publishHandler.Publish)
				admin.Get("/admin/exams/{id}/summary", reportHandler.Summary)
				admin.Get("/admin/exams/{id}/results.xlsx", reportHandler.Export)
			})
		})
	})

	return r
}
