/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/traas-stack/slowquery-agent/pkg/appconfig"
	"github.com/traas-stack/slowquery-agent/pkg/logger"
	"github.com/traas-stack/slowquery-agent/pkg/logsource"
	"github.com/traas-stack/slowquery-agent/pkg/metrics"
	"github.com/traas-stack/slowquery-agent/pkg/pipeline"
	"github.com/traas-stack/slowquery-agent/pkg/plugin/output"
	_ "github.com/traas-stack/slowquery-agent/pkg/plugin/output/all"
	"github.com/traas-stack/slowquery-agent/pkg/server"
	"github.com/traas-stack/slowquery-agent/pkg/slowquery"
	"github.com/traas-stack/slowquery-agent/pkg/util"
	"go.uber.org/zap"
)

func bootstrap() error {
	begin := time.Now()

	if err := appconfig.SetupAppConfig(); err != nil {
		return err
	}
	cfg := appconfig.StdAgentConfig

	if cfg.Log.File {
		if err := logger.SetupZapLogger(logger.FileConfig{Dir: cfg.Log.Dir, Stdout: cfg.Log.Stdout}); err != nil {
			return err
		}
	}
	defer logger.Sync()

	logger.Infoz("[bootstrap] config", zap.Any("config", cfg))
	logger.Infoz("[bootstrap] network", zap.String("hostname", util.GetHostname()))

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		logger.Errorz("[bootstrap] load catalog error", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		return err
	}
	classifier := slowquery.New(catalog)
	logger.Infoz("[bootstrap] catalog", zap.Int("rules", len(catalog.Rules)), zap.Int("ignoreRules", len(catalog.IgnoreRules)), zap.Int("valueRules", len(catalog.ValueRules)))

	source, err := logsource.New(cfg.Source)
	if err != nil {
		return errors.Wrap(err, "create log source")
	}

	out, err := output.Build(cfg.Output)
	if err != nil {
		return err
	}
	out.Start()
	defer out.Stop()

	p := pipeline.New(cfg.Area, cfg.Scan, source, classifier, out)

	hs := server.NewHttpServer(cfg.Http.Addr)
	hs.Handle("/metrics", metrics.Handler())
	hs.HandleFunc("/api/slowquery/classify", server.ClassifyHandler(classifier),
		`-XPOST -d '{"commandType":"query","database":"db","message":"..."}'`)
	hs.Register(logger.RegisterHttpHandler)
	hs.Register(appconfig.RegisterHttpHandler)
	if err := hs.Listen(); err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Http.Addr)
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return p.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(hs.Serve, func(error) {
			hs.Stop()
		})
	}
	{
		c := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		g.Add(func() error {
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			select {
			case sig := <-c:
				logger.Infoz("[agent] receive stop signal", zap.String("signal", sig.String()))
			case <-cancel:
			}
			return nil
		}, func(error) {
			signal.Stop(c)
			close(cancel)
		})
	}

	logger.Infoz("[bootstrap] started", zap.Duration("cost", time.Since(begin)), zap.String("source", source.Name()), zap.String("http", hs.Addr()))
	err = g.Run()
	logger.Infoz("[agent] stopped", zap.Error(err))
	return err
}

func loadCatalog(cfg appconfig.CatalogConfig) (*slowquery.Catalog, error) {
	if cfg.Path == "" {
		return slowquery.DefaultCatalog(), nil
	}
	return slowquery.LoadCatalog(cfg.Path)
}
