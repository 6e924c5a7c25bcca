package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"examhall/internal/app"
	"examhall/internal/attempt"
	"examhall/internal/auth"
	"examhall/internal/db"
	"examhall/internal/i18n"
	"examhall/internal/importer"
	"examhall/internal/question"
	"examhall/internal/report"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examhall",
		Short:        "Online exam platform: timed multiple-choice exams with scoring",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), importCmd(), exportCmd(), createAdminCmd())

	// "serve" is the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	def := app.DefaultConfig()
	f.String("db-driver", def.DBDriver, "Database driver (sqlite, postgres)")
	f.String("db-dsn", def.DBDSN, "Database DSN or SQLite file path")
	f.String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	f.String("log-format", def.LogFormat, "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	def := app.DefaultConfig()
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("http-addr", "a", def.HTTPAddr, "HTTP listen address")
	f.Int("db-max-open-conns", def.DBMaxOpenConns, "Maximum open database connections")
	f.Int("db-max-idle-conns", def.DBMaxIdleConns, "Maximum idle database connections")
	f.Duration("db-conn-max-lifetime", def.DBConnMaxLifetime, "Maximum connection lifetime")
	f.Duration("session-ttl", def.SessionTTL, "Login session lifetime")
	f.Int("default-exam-minutes", def.DefaultExamMinutes, "Duration for imported exams without one")
	f.Int("pass-percentage", def.PassPercentage, "Minimum percentage that counts as a pass")
	f.Bool("csrf-enforced", false, "Require the CSRF double-submit token on cookie sessions")
	f.Int("auth-rate-limit-per-minute", def.AuthRateLimitPerMin, "Login/register requests per client per minute")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (empty disables CORS)")
	f.StringP("lang", "l", def.Lang, "Default message language (ar, en)")
	f.String("admin-email", "", "Seed an admin with this email on start")
	f.String("admin-password", "", "Password for the seeded admin (or EXAMHALL_ADMIN_PASSWORD)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := setup(cmd)
			conn, err := openDB(cmd.Context(), app.LoadConfig(v))
			if err != nil {
				return err
			}
			defer conn.Close()
			slog.Info("schema applied", "driver", v.GetString("db-driver"))
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create an exam from an .xlsx sheet or a .yaml manifest",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.String("title", "", "Exam title (xlsx only, defaults to the file name)")
	f.String("description", "", "Exam description (xlsx only)")
	f.Int("duration", 0, "Duration in minutes (xlsx only, 0 uses default-exam-minutes)")
	f.Int("default-exam-minutes", app.DefaultConfig().DefaultExamMinutes, "Fallback exam duration")
	f.Bool("publish", false, "Publish the exam right away (xlsx only)")
	f.String("grade", "", "Grade code (xlsx only)")
	f.String("subject", "", "Subject code (xlsx only)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an exam's completed results to .xlsx",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.Int64("exam-id", 0, "Exam identifier (required)")
	f.StringP("output", "o", "", "Output file (- for stdout, default exam-<id>-results.xlsx)")
	f.Int("pass-percentage", app.DefaultConfig().PassPercentage, "Minimum percentage that counts as a pass")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user or promote an existing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := setup(cmd)
			conn, err := openDB(cmd.Context(), app.LoadConfig(v))
			if err != nil {
				return err
			}
			defer conn.Close()

			u, err := auth.NewService(conn, auth.ServiceConfig{}).
				EnsureAdmin(cmd.Context(), v.GetString("email"), v.GetString("password"), v.GetString("name"))
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (id %d) ready\n", u.Email, u.ID)
			return nil
		},
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.String("email", "", "Admin email (required)")
	f.String("password", "", "Admin password (required)")
	f.String("name", "Administrator", "Admin full name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// setup installs the default logger and returns the command's viper view.
func setup(cmd *cobra.Command) *viper.Viper {
	v := viperForCmd(cmd)
	slog.SetDefault(app.NewLogger(os.Stderr, v.GetString("log-level"), v.GetString("log-format")))
	return v
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMHALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examhall")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examhall")
	v.AddConfigPath("/etc/examhall")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

func openDB(ctx context.Context, cfg app.Config) (*sql.DB, error) {
	dbCfg, err := cfg.DBConfig()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	cfg := app.LoadConfig(v)

	if err := i18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		u, err := auth.NewService(conn, auth.ServiceConfig{}).EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, "Administrator")
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		slog.Info("admin account ready", "email", u.Email, "user_id", u.ID)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, conn, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.HTTPAddr,
			"db_driver", cfg.DBDriver,
			"lang", cfg.Lang,
			"csrf_enforced", cfg.CSRFEnforced,
			"cors_origins", len(cfg.CORSOrigins),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, args []string) error {
	v := setup(cmd)
	cfg := app.LoadConfig(v)
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	conn, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	svc := importer.NewService(question.NewStore(conn), cfg.DefaultExamMinutes)

	var e *question.Exam
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		title := v.GetString("title")
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		e, err = svc.Import(cmd.Context(), importer.Input{
			Title:           title,
			Description:     v.GetString("description"),
			DurationMinutes: v.GetInt("duration"),
			Publish:         v.GetBool("publish"),
			Grade:           v.GetString("grade"),
			Subject:         v.GetString("subject"),
			Workbook:        f,
		})
	case ".yaml", ".yml":
		e, err = svc.ImportManifest(cmd.Context(), f)
	default:
		return fmt.Errorf("unsupported file type %q: want .xlsx, .yaml or .yml", ext)
	}
	if err != nil {
		var ierr *importer.ImportError
		if errors.As(err, &ierr) {
			for _, p := range ierr.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "row %d %s: %s\n", p.Row, p.Column, p.Message)
			}
		}
		return fmt.Errorf("import %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exam %d %q: %d questions, published=%t\n", e.ID, e.Title, e.TotalQuestions, e.IsPublished)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	cfg := app.LoadConfig(v)
	examID := v.GetInt64("exam-id")

	conn, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	svc := report.NewService(conn, attempt.NewLedger(conn), question.NewStore(conn), cfg.PassPercentage)
	data, err := svc.ExportResults(cmd.Context(), examID)
	if err != nil {
		return fmt.Errorf("export exam %d: %w", examID, err)
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = fmt.Sprintf("exam-%d-results.xlsx", examID)
	}
	var w io.Writer
	if outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
		w = out
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if outPath != "-" {
		slog.Info("results exported", "exam_id", examID, "path", outPath, "bytes", len(data))
	}
	return nil
}
