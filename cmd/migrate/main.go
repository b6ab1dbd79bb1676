package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"node.town/honk/catalog"
	"node.town/honk/config"
)

func main() {
	rollback := flag.Bool("rollback", false, "Revert the most recent migration")
	yes := flag.Bool("yes", false, "Apply every pending migration without asking")
	flag.Parse()

	logger := log.New(os.Stdout)
	sqlLogger := logger.With().WithPrefix("data")

	_ = godotenv.Load()
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("no config file, using defaults", "error", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		logger.Fatal("load configuration", "error", err.Error())
	}

	ctx := context.Background()
	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open database", "error", err.Error())
	}
	defer db.Close()
	dialect := catalog.Dialect(cfg.DatabaseDriver)

	if *rollback {
		if err := catalog.Rollback(ctx, db, dialect, sqlLogger); err != nil {
			logger.Fatal("revert migration", "error", err.Error())
		}
		return
	}

	var confirm catalog.Confirm
	if !*yes {
		confirm = func(m catalog.Migration) (bool, error) {
			apply := true
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Apply migration %s?", m.ID)).
				Description(m.Description).
				Value(&apply).
				Run()
			return apply, err
		}
	}

	logger.Info("Starting database migration process...", "driver", cfg.DatabaseDriver)
	if err := catalog.Migrate(ctx, db, dialect, sqlLogger, confirm); err != nil {
		logger.Fatal("apply migrations", "error", err.Error())
	}
	logger.Info("Migrations applied successfully")
}
