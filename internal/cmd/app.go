// Package cmd provides the CLI commands for annexmig.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/annexmig/internal/apperrors"
	"github.com/fclairamb/annexmig/internal/config"
	"github.com/fclairamb/annexmig/internal/migrate"
	"github.com/fclairamb/annexmig/internal/reclaim"
	"github.com/fclairamb/annexmig/internal/store"
	"github.com/fclairamb/annexmig/internal/unused"
	"github.com/fclairamb/annexmig/internal/version"
)

// settings is the configuration loaded by the root command.
var settings = config.Default()

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// setupLogging configures the global logger based on the verbose flag and ANNEXMIG_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch settings.LogFormat {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	// Warn about invalid format after logger is set up
	if !settings.ValidLogFormat() {
		slog.Warn("Invalid ANNEXMIG_LOG_FORMAT value, using text format", "value", settings.LogFormat)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled", "git", settings.GitBinary)
	}
}

func beforeCommand(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	setupLogging(cmd)
	return ctx, nil
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "annexmig",
		Usage:   "Move trees between git-annex repositories and reclaim the space they leave behind",
		Version: version.String(),
		Flags: []cli.Flag{
			verboseFlag,
		},
		Before: func(ctx context.Context, _ *cli.Command) (context.Context, error) {
			cfg, err := config.Load()
			if err != nil {
				return ctx, err
			}
			settings = cfg
			return ctx, nil
		},
		// Exit codes are decided by main through ExitCode.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			migrateCommand(),
			reclaimCommand(),
			reviewCommand(),
		},
	}
}

// migrateCommand creates the migrate subcommand.
func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Move trees into a directory of another git-annex repository",
		ArgsUsage: "<source...> <dest>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "commit",
				Aliases: []string{"c"},
				Usage:   "Commit the removals in each source and the additions in the destination",
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 { //nolint:mnd // at least one source and the destination
				return apperrors.ErrNotEnoughArguments
			}

			args := cmd.Args().Slice()
			destDir := args[len(args)-1]

			dest, err := openStore(destDir)
			if err != nil {
				return err
			}

			sources := make([]migrate.Source, 0, len(args)-1)
			for _, path := range args[:len(args)-1] {
				src, err := migrate.OpenSource(path, storeOptions()...)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}

			engine := migrate.NewEngine(dest, destDir, migrate.WithLogger(slog.Default()))
			result, err := engine.Migrate(ctx, sources, cmd.Bool("commit"))
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			displayMigrateResult(result)
			return nil
		},
	}
}

// reclaimCommand creates the reclaim-migrated subcommand.
func reclaimCommand() *cli.Command {
	return &cli.Command{
		Name:      "reclaim-migrated",
		Usage:     "Drop unused objects whose content was migrated and is still hard-linked elsewhere",
		ArgsUsage: "[repository]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show what would be dropped without dropping anything",
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := openStore(repositoryArg(cmd))
			if err != nil {
				return err
			}
			if err := st.CheckAnnex(); err != nil {
				return err
			}

			reporter := unused.NewReporter(st, unused.WithLogger(slog.Default()))
			reclaimer := reclaim.New(st, reporter,
				reclaim.WithDryRun(cmd.Bool("dry-run")),
				reclaim.WithLogger(slog.Default()))

			result, err := reclaimer.Reclaim(ctx)
			if err != nil {
				return fmt.Errorf("reclaim: %w", err)
			}

			displayReclaimResult(result)
			return nil
		},
	}
}

// reviewCommand creates the review-unused subcommand.
func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review-unused",
		Usage:     "Show unused objects with the history of each, and optionally drop them",
		ArgsUsage: "[repository]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "just-print",
				Usage: "Only print the report, do not prompt",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Report objects unused on this remote",
			},
			&cli.StringFlag{
				Name:  "used-refspec",
				Usage: "Refs considered when deciding what is used (default: annex.used-refspec)",
			},
			verboseFlag,
		},
		Before: beforeCommand,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := openStore(repositoryArg(cmd))
			if err != nil {
				return err
			}
			if err := st.CheckAnnex(); err != nil {
				return err
			}

			reporter := unused.NewReporter(st, unused.WithLogger(slog.Default()))
			entries, err := reporter.GetUnused(ctx, store.UnusedParams{
				From:        cmd.String("from"),
				UsedRefspec: cmd.String("used-refspec"),
			}, true)
			if err != nil {
				return fmt.Errorf("unused: %w", err)
			}

			if len(entries) == 0 {
				displayNoUnused()
				return nil
			}

			if cmd.Bool("just-print") {
				if err := unused.WriteReport(os.Stdout, entries); err != nil {
					return err
				}
			} else if err := reviewInteractively(ctx, st, reporter, entries); err != nil {
				return err
			}

			return cli.Exit(fmt.Sprintf("%d unused objects found", len(entries)), exitUnusedFound)
		},
	}
}

// reviewInteractively prompts for each entry and drops the accepted ones.
func reviewInteractively(ctx context.Context, st *store.Store, reporter *unused.Reporter, entries []unused.Entry) error {
	accepted, err := unused.Prompt(os.Stdin, os.Stdout, entries)
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		return nil
	}

	if err := st.Purge(ctx, accepted); err != nil {
		return err
	}
	displayDropped(accepted)
	return reporter.Invalidate()
}

func repositoryArg(cmd *cli.Command) string {
	if cmd.Args().Len() > 0 {
		return cmd.Args().First()
	}
	return "."
}

// openStore opens the repository containing path with the configured options.
func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewPreconditionError(path, "does not exist")
	}
	return store.Open(path, storeOptions()...)
}

func storeOptions() []store.Option {
	return []store.Option{
		store.WithLogger(slog.Default()),
		store.WithGitBinary(settings.GitBinary),
		store.WithRenameLimit(settings.RenameLimit),
		store.WithCacheFile(settings.CacheFile),
		store.WithAuthor(settings.AuthorName, settings.AuthorEmail),
	}
}
