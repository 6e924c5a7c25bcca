package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"examhall/internal/db"
)

// Config stores runtime configuration resolved from flags, environment
// (EXAMHALL_*) and an optional config file.
type Config struct {
	HTTPAddr string

	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionTTL         time.Duration
	BcryptCost         int
	DefaultExamMinutes int
	PassPercentage     int

	CSRFEnforced        bool
	AuthRateLimitPerMin int
	CORSOrigins         []string

	Lang      string
	LogLevel  string
	LogFormat string

	AdminEmail    string
	AdminPassword string
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		DBDriver:            string(db.DriverSQLite),
		DBDSN:               "examhall.db",
		DBMaxOpenConns:      25,
		DBMaxIdleConns:      25,
		DBConnMaxLifetime:   30 * time.Minute,
		SessionTTL:          7 * 24 * time.Hour,
		DefaultExamMinutes:  60,
		PassPercentage:      50,
		AuthRateLimitPerMin: 60,
		Lang:                "ar",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadConfig reads every known key from v. Non-positive numbers keep their
// defaults.
func LoadConfig(v *viper.Viper) Config {
	def := DefaultConfig()
	return Config{
		HTTPAddr:            stringOrDefault(v, "http-addr", def.HTTPAddr),
		DBDriver:            stringOrDefault(v, "db-driver", def.DBDriver),
		DBDSN:               stringOrDefault(v, "db-dsn", def.DBDSN),
		DBMaxOpenConns:      intOrDefault(v, "db-max-open-conns", def.DBMaxOpenConns),
		DBMaxIdleConns:      intOrDefault(v, "db-max-idle-conns", def.DBMaxIdleConns),
		DBConnMaxLifetime:   durationOrDefault(v, "db-conn-max-lifetime", def.DBConnMaxLifetime),
		SessionTTL:          durationOrDefault(v, "session-ttl", def.SessionTTL),
		BcryptCost:          v.GetInt("bcrypt-cost"),
		DefaultExamMinutes:  intOrDefault(v, "default-exam-minutes", def.DefaultExamMinutes),
		PassPercentage:      intOrDefault(v, "pass-percentage", def.PassPercentage),
		CSRFEnforced:        v.GetBool("csrf-enforced"),
		AuthRateLimitPerMin: intOrDefault(v, "auth-rate-limit-per-minute", def.AuthRateLimitPerMin),
		CORSOrigins:         splitList(v.GetStringSlice("cors-origins")),
		Lang:                stringOrDefault(v, "lang", def.Lang),
		LogLevel:            stringOrDefault(v, "log-level", def.LogLevel),
		LogFormat:           stringOrDefault(v, "log-format", def.LogFormat),
		AdminEmail:          strings.TrimSpace(v.GetString("admin-email")),
		AdminPassword:       v.GetString("admin-password"),
	}
}

// DBConfig maps the database keys onto db.Config.
func (c Config) DBConfig() (db.Config, error) {
	driver, err := db.ParseDriver(c.DBDriver)
	if err != nil {
		return db.Config{}, fmt.Errorf("config: %w", err)
	}
	return db.Config{
		Driver:          driver,
		DSN:             c.DBDSN,
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}, nil
}

func stringOrDefault(v *viper.Viper, key, fallback string) string {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	return s
}

func intOrDefault(v *viper.Viper, key string, fallback int) int {
	n := v.GetInt(key)
	if n <= 0 {
		return fallback
	}
	return n
}

func durationOrDefault(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		return fallback
	}
	return d
}

// splitList accepts both repeated values and a single comma separated one,
// which is how lists arrive from the environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
