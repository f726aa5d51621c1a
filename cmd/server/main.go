// Package main is the entry point for the Kiro-to-Anthropic proxy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/sdxdlgz/kiroproxy/internal/config"
	"github.com/sdxdlgz/kiroproxy/internal/httpapi"
	"github.com/sdxdlgz/kiroproxy/internal/kiroauth"
	"github.com/sdxdlgz/kiroproxy/internal/logging"
	"github.com/sdxdlgz/kiroproxy/internal/orchestrator"
	"github.com/sdxdlgz/kiroproxy/internal/pool"
	"github.com/sdxdlgz/kiroproxy/internal/tokenestimate"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the proxy's YAML configuration file")
	flag.Parse()

	fmt.Printf("kiroproxy %s\n", Version)

	if wd, err := os.Getwd(); err == nil {
		_ = godotenv.Load(filepath.Join(wd, ".env"))
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if warnings, err := config.ValidateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	} else {
		for _, w := range warnings {
			log.Warn(w)
		}
	}

	logging.SetLogLevel(boolToLevel(cfg.Debug))
	if err := logging.ConfigureLogOutput(cfg); err != nil {
		log.WithError(err).Fatal("configuring log output")
	}

	store := kiroauth.NewStore(nil)
	accountPool := pool.New(poolConfig(cfg), nil)

	if cfg.CredentialsDir != "" {
		if err := store.LoadDir(cfg.CredentialsDir); err != nil {
			log.WithError(err).Fatal("loading credentials")
		}
		for _, name := range store.Names() {
			accountPool.Add(name)
		}
	}

	estimator := tokenestimate.New(tokenestimate.RemoteConfig{
		URL:      cfg.CountTokensAPIURL,
		APIKey:   cfg.CountTokensAPIKey,
		AuthType: cfg.CountTokensAuthType,
	}, nil, log.WithField("component", "tokenestimate"))

	orch := orchestrator.New(accountPool, store, cfg, nil)
	server := httpapi.New(cfg, orch, accountPool, store, estimator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch, err := watchConfigAndCredentials(ctx, configPath, cfg.CredentialsDir, store, accountPool)
	if err != nil {
		log.WithError(err).Warn("starting config/credentials watcher failed, continuing without hot reload")
	} else {
		defer stopWatch()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("server exited")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}
}

func boolToLevel(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}

func poolConfig(cfg *config.Config) pool.Config {
	pc := pool.DefaultConfig()
	if cfg.FailureCooldownSecs > 0 {
		pc.FailureCooldown = time.Duration(cfg.FailureCooldownSecs) * time.Second
	}
	if cfg.MaxFailures > 0 {
		pc.MaxFailures = cfg.MaxFailures
	}
	return pc
}

// watchConfigAndCredentials watches the config file for content changes
// (re-validated and re-applied to logging on write) and credentialsDir for
// new/removed account files, so accounts can be added or removed without a
// restart, per SPEC_FULL.md's generalization of the teacher's config
// hot-reload watcher to also cover the credentials directory.
func watchConfigAndCredentials(ctx context.Context, configPath, credentialsDir string, store *kiroauth.Store, accountPool *pool.Pool) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: new watcher: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).Warn("watching config directory failed")
		}
	}
	if credentialsDir != "" {
		if err := watcher.Add(credentialsDir); err != nil {
			log.WithError(err).Warn("watching credentials directory failed")
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				handleWatchEvent(event, configPath, credentialsDir, store, accountPool)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("fsnotify watcher error")
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

func handleWatchEvent(event fsnotify.Event, configPath, credentialsDir string, store *kiroauth.Store, accountPool *pool.Pool) {
	switch {
	case event.Name == configPath:
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.WithError(err).Warn("reloading configuration failed")
			return
		}
		if _, err := config.ValidateConfig(cfg); err != nil {
			log.WithError(err).Warn("reloaded configuration is invalid, keeping previous settings")
			return
		}
		if err := logging.ConfigureLogOutput(cfg); err != nil {
			log.WithError(err).Warn("applying reloaded log configuration failed")
		}
		log.Info("configuration reloaded")

	case credentialsDir != "" && filepath.Dir(event.Name) == filepath.Clean(credentialsDir):
		if filepath.Ext(event.Name) != ".json" {
			return
		}
		name := fileStem(event.Name)
		switch {
		case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
			_ = store.Remove(name, false)
			accountPool.Remove(name)
			log.WithField("account", name).Info("account file removed, dropped from pool")
		case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
			if err := store.LoadFile(name, event.Name); err != nil {
				log.WithError(err).WithField("account", name).Warn("loading updated credential file failed")
				return
			}
			accountPool.Add(name)
			log.WithField("account", name).Info("account file loaded")
		}
	}
}

func fileStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
