// cmd/server/migrate.go
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"scope-service/internal/config"
	"scope-service/internal/database"
	"scope-service/internal/utils"
)

// serverFlags are the command line switches of the server. The migration
// switches run against the configured database and exit.
type serverFlags struct {
	migrateDown    bool
	migrateForce   int
	migrateVersion bool
}

func parseFlags(args []string) (*serverFlags, error) {
	f := &serverFlags{}
	fs := pflag.NewFlagSet("scope-service", pflag.ContinueOnError)
	fs.BoolVar(&f.migrateDown, "migrate-down", false, "roll back every migration and exit")
	fs.IntVar(&f.migrateForce, "migrate-force", -1, "mark the schema as this version, clearing the dirty flag, and exit")
	fs.BoolVar(&f.migrateVersion, "migrate-version", false, "print the schema version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	n := 0
	for _, set := range []bool{f.migrateDown, f.migrateForce >= 0, f.migrateVersion} {
		if set {
			n++
		}
	}
	if n > 1 {
		return nil, errors.New("only one of --migrate-down, --migrate-force and --migrate-version may be given")
	}
	return f, nil
}

func (f *serverFlags) migrationRequested() bool {
	return f.migrateDown || f.migrateForce >= 0 || f.migrateVersion
}

// schemaMigrator is the part of database.Migrator the switches drive
type schemaMigrator interface {
	Down() error
	Force(version int) error
	Version() (uint, bool, error)
}

func runMigrationCommand(flags *serverFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("database is disabled in configuration")
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer utils.CloseLogger(logger)

	migrator := database.NewMigrator(cfg.GetDatabaseDSN(), logger, &cfg.Database)
	return applyMigrationFlags(migrator, flags, os.Stdout)
}

// applyMigrationFlags runs the requested action and prints the resulting version
func applyMigrationFlags(m schemaMigrator, flags *serverFlags, out io.Writer) error {
	switch {
	case flags.migrateDown:
		if err := m.Down(); err != nil {
			return err
		}
	case flags.migrateForce >= 0:
		if err := m.Force(flags.migrateForce); err != nil {
			return err
		}
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "schema version %d dirty=%v\n", version, dirty)
	return err
}
