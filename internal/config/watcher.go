package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 5 * time.Second

// ConfigWatcher monitors the .env file and applies the settings that can
// change without a restart. Only the log level is reloadable today.
type ConfigWatcher struct {
	config       *Config
	envPath      string
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	stopOnce     sync.Once
	lastModTime  time.Time
	pollInterval time.Duration
	mu           sync.RWMutex
	onLogLevel   func(level string)
}

// NewConfigWatcher creates a new config watcher. onLogLevel is invoked with
// the new level whenever PLANSYNC_LOG_LEVEL changes in the .env file.
func NewConfigWatcher(config *Config, onLogLevel func(level string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		config:       config,
		envPath:      config.EnvPath(),
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		pollInterval: defaultPollInterval,
		onLogLevel:   onLogLevel,
	}

	if stat, err := os.Stat(cw.envPath); err == nil {
		cw.lastModTime = stat.ModTime()
	}
	return cw, nil
}

// Start begins watching the config file
func (cw *ConfigWatcher) Start() error {
	dir := filepath.Dir(cw.envPath)
	if err := cw.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory")
		log.Warn().Msg("Falling back to polling for config changes")
		go cw.pollForChanges()
		return nil
	}

	go cw.watchForChanges()
	log.Info().Str("env_path", cw.envPath).Msg("Started watching config file for changes")
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	if err := cw.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	cw.Stop()
	return nil
}

// Stop stops the config watcher
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		cw.watcher.Close()
	})
}

// ReloadConfig manually triggers a config reload (e.g., from SIGHUP)
func (cw *ConfigWatcher) ReloadConfig() {
	cw.reloadConfig()
}

// LogLevel returns the currently applied log level.
func (cw *ConfigWatcher) LogLevel() string {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config.LogLevel
}

func (cw *ConfigWatcher) watchForChanges() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ".env" && event.Name != cw.envPath {
				continue
			}

			// Debounce - wait a bit for write to complete
			time.Sleep(100 * time.Millisecond)

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Info().Str("event", event.Op.String()).Msg("Detected .env file change")
				cw.reloadConfig()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) pollForChanges() {
	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if stat, err := os.Stat(cw.envPath); err == nil && stat.ModTime().After(cw.lastModTime) {
				log.Info().Msg("Detected .env file change via polling")
				cw.lastModTime = stat.ModTime()
				cw.reloadConfig()
			}
		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) reloadConfig() {
	envMap, err := godotenv.Read(cw.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("Failed to read .env file")
			return
		}
		envMap = make(map[string]string)
	}

	cw.mu.Lock()
	newLevel := strings.ToLower(strings.Trim(envMap["PLANSYNC_LOG_LEVEL"], "'\" "))
	if newLevel == "" {
		newLevel = "info"
	}
	oldLevel := cw.config.LogLevel
	if newLevel == oldLevel {
		cw.mu.Unlock()
		log.Debug().Msg("No relevant changes detected in .env file")
		return
	}
	cw.config.LogLevel = newLevel
	callback := cw.onLogLevel
	cw.mu.Unlock()

	if callback != nil {
		callback(newLevel)
	}
	log.Info().Str("old", oldLevel).Str("new", newLevel).Msg("Applied .env log level change")
}
