package main

import (
	"os"
	"strings"

	"github.com/ericomondi/e-api/internal/config"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/pg"
)

// migrate --env=.env --dir=./migrations
func main() {
	defer logger.Sync()

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}
	if err = pg.Migrate(pgConf, getMigrationPath()); err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func argValue(name string) (string, bool) {
	for _, v := range os.Args {
		if value, ok := strings.CutPrefix(v, "--"+name+"="); ok {
			return value, true
		}
	}
	return "", false
}

func getEnvPath() string {
	path, ok := argValue("env")
	if !ok {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warn("env file not found, using process environment", "path", path)
		return ""
	}
	return path
}

func getMigrationPath() string {
	if path, ok := argValue("dir"); ok {
		return path
	}
	return "./migrations"
}
