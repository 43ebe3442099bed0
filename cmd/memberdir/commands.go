package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dshills/memberdir/internal/config"
	"github.com/dshills/memberdir/internal/importer"
	"github.com/dshills/memberdir/internal/mcp"
	"github.com/dshills/memberdir/internal/storage"
)

// app carries state shared by the commands of one invocation
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "memberdir",
		Short:         "Faceted member directory served over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// version needs no config
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			if cfg.File != "" {
				logger.Debug("loaded config file", zap.String("path", cfg.File))
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	config.RegisterFlags(root.PersistentFlags())
	if err := config.BindFlags(a.v, root.PersistentFlags()); err != nil {
		panic(err)
	}

	root.AddCommand(a.newServeCmd(), a.newImportCmd(), newVersionCmd())
	return root
}

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the directory over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("memberdir starting",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName),
				zap.String("db", a.cfg.DBPath))

			server, err := mcp.NewServer(mcp.Config{
				DBPath:        a.cfg.DBPath,
				Directory:     a.cfg.Directory(),
				MaxSessions:   a.cfg.MaxSessions,
				SettleTimeout: a.cfg.SettleTimeout,
			}, a.logger)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			a.logger.Info("MCP server ready, listening on stdio")
			err = server.Serve(cmd.Context())
			if errors.Is(err, cmd.Context().Err()) {
				err = nil
			}
			a.logger.Info("server stopped")
			return err
		},
	}
}

func (a *app) newImportCmd() *cobra.Command {
	var includeHidden bool
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import member profiles from .yaml, .yml or .json files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLiteStorage(a.cfg.DBPath, storage.WithSuggestionLimit(a.cfg.SuggestionLimit))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			imp := importer.New(store, importer.WithLogger(a.logger))
			stats, err := imp.Import(cmd.Context(), args[0], &importer.Config{
				Workers:       a.cfg.ImportWorkers,
				BatchSize:     a.cfg.ImportBatchSize,
				IncludeHidden: includeHidden,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d members from %d files in %v\n",
				stats.MembersStored, stats.FilesFound, stats.Duration.Round(time.Millisecond))
			if stats.FilesFailed > 0 || stats.MembersInvalid > 0 {
				fmt.Fprintf(out, "Skipped %d files and %d invalid members:\n", stats.FilesFailed, stats.MembersInvalid)
				for _, msg := range stats.SortedErrors() {
					fmt.Fprintf(out, "  %s\n", msg)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "descend into dot directories")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "memberdir %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
