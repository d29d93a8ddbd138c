// main.go - Admin control tool for linkhub
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"linkhub/internal"
	"linkhub/internal/businesses"
	"linkhub/internal/config"
	"linkhub/internal/events"
	"linkhub/internal/rollups"
	"linkhub/internal/seeder"
	"linkhub/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

var log = logrus.New()

// Command defines the interface for all command implementations
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&CreateBusinessCommand{},
	&RollupCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.WithField("signal", sig).Warn("Received signal, initiating cleanup")
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if _, isHelp := cmd.(*HelpCommand); !isHelp {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize app")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Cleanup error")
			}
		}()
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.WithError(err).Errorf("Command %s failed", cmd.Name())
		os.Exit(1)
	}

	log.Infof("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Info("Running database migrations...")
	return app.DBManager.MigrateDatabase()
}

// CreateBusinessCommand registers a business micro-site
type CreateBusinessCommand struct{}

func (c *CreateBusinessCommand) Name() string { return "create-business" }
func (c *CreateBusinessCommand) Description() string {
	return "Registers a business: create-business <slug> <name> [category]"
}

func (c *CreateBusinessCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <slug> <name> [category]", c.Name())
	}
	db := app.DBManager.GetConnection()

	if existing, err := businesses.GetBusinessBySlug(db, args[0]); err == nil {
		log.WithFields(logrus.Fields{"id": existing.ID, "slug": existing.Slug}).Info("Business already exists")
		return nil
	} else if !businesses.IsNotFound(err) {
		return err
	}

	business := &businesses.Business{Slug: args[0], Name: args[1]}
	if len(args) > 2 && args[2] != "" {
		category, err := businesses.FindOrCreateCategory(db, args[2])
		if err != nil {
			return err
		}
		business.CategoryID = &category.ID
	}
	if err := businesses.CreateBusiness(db, business); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"id": business.ID, "slug": business.Slug}).Info("Business created")
	return nil
}

// RollupCommand recomputes daily rollups for a date range
type RollupCommand struct{}

func (c *RollupCommand) Name() string { return "rollup" }
func (c *RollupCommand) Description() string {
	return "Recomputes rollups: rollup [--from YYYY-MM-DD] [--to YYYY-MM-DD] (defaults to today)"
}

func (c *RollupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	today := timeframe.DateKey(time.Now())
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	from := fs.String("from", today, "first day to roll up")
	to := fs.String("to", today, "last day to roll up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := timeframe.ParseDayRange(*from, *to)
	if err != nil {
		return err
	}

	cfg := config.GetConfig()
	logger := app.Logger
	locker, err := internal.NewRollupLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	aggregator := rollups.NewAggregator(app.DBManager, logger,
		rollups.WithLocker(locker),
		rollups.WithWorkers(cfg.RollupWorkers),
		rollups.WithBatchSize(cfg.RollupBatchSize))

	result, err := aggregator.Backfill(ctx, r)
	log.WithFields(logrus.Fields{
		"from":             r.FirstKey(),
		"to":               r.LastKey(),
		"business_rollups": result.BusinessRollups,
		"platform_rollups": result.PlatformRollups,
		"failed":           len(result.Failed),
	}).Info("Rollup finished")
	return err
}

// SeedCommand populates the DB with sample directory traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds businesses and sample traffic, then rolls it up" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if config.GetConfig().IsProduction() {
		return errors.New("refusing to seed a production database")
	}
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	sessions := fs.Int("sessions", 500, "number of visitor sessions to generate")
	days := fs.Int("days", 30, "spread sessions over this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	stored, err := seeder.NewSeeder(app.DBManager, app.Logger, *sessions, *days).Run(ctx)
	if err != nil {
		return err
	}
	log.WithField("events", stored).Info("Sample traffic stored")

	return (&RollupCommand{}).Execute(ctx, app, []string{
		"--from", timeframe.DateKey(time.Now().AddDate(0, 0, -*days)),
		"--to", timeframe.DateKey(time.Now()),
	})
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	var businessCount, eventCount, rollupCount int64
	if err := db.Model(&businesses.Business{}).Count(&businessCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&events.RawEvent{}).Count(&eventCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&rollups.BusinessRollup{}).Count(&rollupCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	var latestRollup string
	db.Model(&rollups.PlatformRollup{}).Select("MAX(date)").Scan(&latestRollup)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()

	log.WithFields(logrus.Fields{
		"businesses":       businessCount,
		"raw_events":       eventCount,
		"business_rollups": rollupCount,
		"latest_rollup":    latestRollup,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}).Info("System status")
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: linkhubctl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
