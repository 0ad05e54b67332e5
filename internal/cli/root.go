// Package cli содержит команды утилиты cardctl.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/catalog"
	"github.com/mmeshcher/cardbook/internal/config"
	"github.com/mmeshcher/cardbook/internal/events"
	"github.com/mmeshcher/cardbook/internal/renewal"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/service"
)

// app хранит общее состояние команд одного запуска.
type app struct {
	configPath  string
	databaseURI string
	catalogPath string
	calendarTZ  string
	verbose     bool

	cfg     *config.Config
	logger  *zap.Logger
	engine  *renewal.Engine
	catalog *catalog.Catalog
	svc     *service.Service
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "cardctl",
		Short: "Manage a local cardbook database",
		Long: `cardctl runs one-shot operations against the same store the cardbook
server uses: renewal passes, listing cards, browsing the card catalog,
export and import.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.init(cmd) },
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to TOML config file")
	flags.StringVarP(&a.databaseURI, "database", "d", "", "database URI or SQLite file path")
	flags.StringVarP(&a.catalogPath, "catalog", "c", "", "card catalog JSON file")
	flags.StringVar(&a.calendarTZ, "tz", "", "calendar time zone")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newRenewCmd(a),
		newCardsCmd(a),
		newCatalogCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

// Execute запускает cardctl с аргументами args и выводом в out.
// Хранилище закрывается после выполнения команды, в том числе при ошибке.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return err
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("database") {
		cfg.DatabaseURI = a.databaseURI
	}
	if flags.Changed("catalog") {
		cfg.CatalogPath = a.catalogPath
	}
	if flags.Changed("tz") {
		cfg.CalendarTZ = a.calendarTZ
	}
	a.cfg = cfg

	a.logger = zap.NewNop()
	if a.verbose {
		if a.logger, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a.engine = renewal.NewEngine(loc, nil)

	a.catalog, err = catalog.New(a.engine, a.logger)
	if err != nil {
		return err
	}
	if cfg.CatalogPath != "" {
		if err := a.catalog.LoadFile(cfg.CatalogPath); err != nil {
			return fmt.Errorf("load catalog %s: %w", cfg.CatalogPath, err)
		}
	}
	return nil
}

// service открывает хранилище при первом обращении.
func (a *app) service(ctx context.Context) (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	store, err := repository.Open(ctx, a.cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a.svc = service.NewService(store, a.engine, a.catalog, events.NewBus(a.logger), a.logger)
	return a.svc, nil
}

func (a *app) close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	return err
}
