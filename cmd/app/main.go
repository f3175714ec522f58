package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/othala/internal"
	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/snapshot"
	"github.com/starford/othala/internal/store"
	pkgconfig "github.com/starford/othala/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// importBundle applies a snapshot file directly against the store, without
// starting the server.
func importBundle(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("usage: othala import <bundle.json>")
	}
	policy, err := snapshot.ParsePolicy(cmd.String("policy"))
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	bundle, err := snapshot.Parse(raw)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	importer := snapshot.NewImporter(db, engine.New(db, logger), logger)
	res, err := importer.Apply(bundle, policy)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("imported %s: %d notes, %d edges, %d tags (%d refs rebuilt)\n",
		file, res.NotesAdded, res.EdgesAdded, res.TagsAdded, res.RefsRebuilt)
	return nil
}

func mcpServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(cfg)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "othala",
		Usage:  "Local-first knowledge graph with typed references, rename propagation, and snapshot import/export",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Apply a snapshot bundle to the store",
				ArgsUsage: "<bundle.json>",
				Action:    importBundle,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "policy",
						Usage: "Import policy: merge or replace",
						Value: "merge",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcpServe,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
