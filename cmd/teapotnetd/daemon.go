package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/admin"
	"github.com/teapotnet/teapotnet/pkg/config"
	"github.com/teapotnet/teapotnet/pkg/peering"
)

const shutdownTimeout = 10 * time.Second

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := peering.NewRegistry()
	listener := loggingListener{}
	if err := loadContacts(contactsPath, registry, listener); err != nil {
		return fmt.Errorf("loading contacts: %w", err)
	}

	node, err := NewNode(cfg, registry)
	if err != nil {
		return fmt.Errorf("building node: %w", err)
	}

	stopCh := make(chan struct{})
	if err := node.Start(stopCh); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	log.WithField("port", cfg.Port).Info("teapotnetd listening")

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	startConfigWatcher(watchCtx, cfg)

	adminAddr := fmt.Sprintf(":%d", cfg.InterfacePort)
	adminSrv := admin.NewServer(adminAddr)
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil {
			log.WithError(err).Warn("admin server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stopCh)
	node.Core.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return adminSrv.Shutdown(ctx)
}

// startConfigWatcher observes cfg.ProfilesDir (where contact secrets live)
// and logs a reload whenever it changes; a missing directory just means
// live reload isn't available this run, not a startup failure.
func startConfigWatcher(ctx context.Context, cfg config.Config) {
	if _, err := os.Stat(cfg.ProfilesDir); err != nil {
		log.WithField("path", cfg.ProfilesDir).Debug("profiles dir not present, live config reload disabled")
		return
	}

	reloadCh := make(chan config.Config)
	errorCh := make(chan error)
	watcher := config.NewWatcher(cfg.ProfilesDir, configPath, reloadCh, errorCh)

	go func() {
		if err := watcher.StartWatching(ctx); err != nil {
			log.WithError(err).Warn("config watcher stopped")
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-reloadCh:
				log.WithField("tracker", newCfg.Tracker).Info("configuration reloaded")
			case err := <-errorCh:
				log.WithError(err).Warn("config watch error")
			}
		}
	}()
}
