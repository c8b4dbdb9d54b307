package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notebase/internal"
	pkgconfig "github.com/starford/notebase/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

// runMode returns an action that starts the application in mode m. extra
// turns command flags and arguments into further options.
func runMode(m internal.Mode, extra ...func(*cli.Command) []internal.Option) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithMode(m),
		}
		for _, fn := range extra {
			opts = append(opts, fn(cmd)...)
		}

		if err := internal.Run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}

		return nil
	}
}

// requireArg fails the command when its positional argument is missing.
func requireArg(name string, next cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() != 1 {
			return fmt.Errorf("%s: expected exactly one <%s> argument", cmd.Name, name)
		}
		return next(ctx, cmd)
	}
}

// confirmed asks for "yes" on stdin unless --force is set.
func confirmed(prompt string, next cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if !cmd.Bool("force") {
			fmt.Fprint(os.Stderr, prompt+" Type 'yes' to confirm: ")
			answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
				return errors.New("aborted")
			}
		}
		return next(ctx, cmd)
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "notebase",
		Usage:  "Markdown note repository with full-text search, backlinks and version history",
		Action: runMode(internal.ModeServe),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and watch the vault (default)",
				Action: runMode(internal.ModeServe),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdin/stdout",
				Action: runMode(internal.ModeMCP),
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild the search index and link graph from the vault, then exit",
				Action: runMode(internal.ModeRebuild),
			},
			{
				Name:  "export",
				Usage: "Write every note to a tar.gz archive",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Archive path (default notebase-backup-<date>.tar.gz)",
					},
				},
				Action: runMode(internal.ModeExport, func(cmd *cli.Command) []internal.Option {
					return []internal.Option{internal.WithArchive(cmd.String("output"))}
				}),
			},
			{
				Name:      "import",
				Usage:     "Load notes from a tar.gz archive, then rebuild",
				ArgsUsage: "<archive>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Delete every existing note first instead of merging",
					},
				},
				Action: requireArg("archive", runMode(internal.ModeImport, func(cmd *cli.Command) []internal.Option {
					return []internal.Option{
						internal.WithArchive(cmd.Args().First()),
						internal.WithReplace(cmd.Bool("replace")),
					}
				})),
			},
			{
				Name:  "clear",
				Usage: "Delete every note, then rebuild (history is kept)",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip the confirmation prompt",
					},
				},
				Action: confirmed("This deletes ALL notes.", runMode(internal.ModeClear)),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
