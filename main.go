package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/melodia/backend/config"
	"github.com/melodia/backend/routes"
	"github.com/melodia/backend/sweeper"
	"github.com/melodia/backend/utils"
)

func main() {
	app := &cli.App{
		Name:   "melodia",
		Usage:  "music platform backend",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP server and the temp directory sweeper",
				Action: serve,
			},
			{
				Name:  "sweep",
				Usage: "run a single sweep pass over the temp directory and print its report",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "directory to sweep instead of the configured TEMP_DIR"},
				},
				Action: sweepOnce,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(_ *cli.Context) error {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = utils.Logger.Sync() }()

	// The database is optional at boot; the connector is for route handlers
	db, err := config.InitDatabase()
	switch {
	case errors.Is(err, config.ErrDatabaseNotConfigured):
		utils.Sugar.Info("no database configured")
	case err != nil:
		utils.Sugar.Warnf("database unavailable, continuing without it: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sw, err := newSweeper(cfg, cfg.TempDir, reg)
	if err != nil {
		return err
	}
	if err := sw.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	r := routes.SetupRouter(routes.Deps{
		Config:  cfg,
		DB:      db,
		Sweeper: sw,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	return utils.GraceServer(":"+cfg.AppPort, r,
		sw.Stop,
		func(context.Context) error { return config.CloseDatabase() },
		func(context.Context) error { return utils.CloseRedis() },
	)
}

func sweepOnce(c *cli.Context) error {
	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = utils.Logger.Sync() }()

	dir := cfg.TempDir
	if d := c.String("dir"); d != "" {
		dir = d
	}
	sw, err := newSweeper(cfg, dir, nil)
	if err != nil {
		return err
	}
	defer func() { _ = utils.CloseRedis() }()

	rep := sw.SweepOnce(c.Context)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	out := struct {
		Result string `json:"result"`
		sweeper.Report
		Failures []string `json:"failures,omitempty"`
	}{Result: rep.Result(), Report: rep}
	for _, f := range rep.Failed {
		out.Failures = append(out.Failures, f.Error())
	}
	if err := enc.Encode(out); err != nil {
		return err
	}
	if rep.ListErr != nil {
		return cli.Exit(rep.ListErr.Error(), 2)
	}
	return nil
}

func newSweeper(cfg config.AppConfig, dir string, reg prometheus.Registerer) (*sweeper.Sweeper, error) {
	policy, err := sweeper.ParseDirPolicy(cfg.SweepDirPolicy)
	if err != nil {
		return nil, err
	}
	opts := sweeper.Options{
		Dir:        dir,
		Schedule:   cfg.SweepSchedule,
		DirPolicy:  policy,
		MaxEntries: cfg.SweepMaxEntries,
		MinAge:     cfg.SweepMinAge,
		Logger:     utils.Logger.Named("sweeper"),
		Metrics:    sweeper.NewMetrics(reg),
	}
	if cfg.SweepDistributedLock {
		if rdb := utils.GetRedis(); rdb != nil {
			opts.Locker = sweeper.NewRedisLocker(rdb, dir, 0)
		} else {
			utils.Logger.Warn("distributed sweep lock requested but REDIS_HOST is unset", zap.String("dir", dir))
		}
	}
	return sweeper.New(opts)
}
