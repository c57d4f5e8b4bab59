package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PPLink/global"
	"PPLink/logger"

	"github.com/golang/glog"
	"go.uber.org/zap"
)

func main() {
	configName := flag.String("config", "config", "config file name (without .yaml), searched in ./ and ./config")
	flag.Parse()
	defer glog.Flush()

	w, err := global.Watch(logger.Log, func(c *global.Config) {
		logger.SetLevel(c.App.LogLevel)
	}, *configName)
	if err != nil {
		logger.Log.Fatal("load config", zap.Error(err))
	}
	cfg := w.Current()
	logger.Init(cfg.App.LogLevel, cfg.App.LogColor)
	log := logger.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup", zap.Error(err))
	}
	if err := a.run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		a.shutdown()
		os.Exit(1)
	}
	a.shutdown()
}
