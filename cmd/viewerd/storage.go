package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/storage"
)

// initStorage builds the configured snapshot backend and brings it up.
// On failure the engine keeps running without persistence.
func initStorage() error {
	backend, err := createStorageBackend(config.GetStorageConfig())
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize %s storage backend: %w", storageKind(), err)
	}

	StorageBackend = backend
	Logger.Info("Storage backend ready", "backend", storageKind())
	return nil
}

// createStorageBackend preps what the configured kind needs and hands
// off to the storage factory. The db backend gets a relational manager
// whose Init connects to Postgres, or to in-memory sqlite when that
// fails; websocket urls are normalized from http(s) to ws(s).
func createStorageBackend(cfg config.StorageConfig) (storage.Backend, error) {
	cfg.Type = strings.ToLower(cfg.Type)

	switch cfg.Type {
	case "db":
		DBManager = database.NewManager(newZerologLogger("database"))
		DBManager.SqliteFilePath = filepath.Join(config.GetLogConfig().Dir,
			fmt.Sprintf("viewerd_%s.db", SessionStartTime.Format("20060102_150405")))
	case "websocket":
		cfg.Websocket.URL = httpToWS(cfg.Websocket.URL)
	}

	return storage.NewBackend(cfg, storage.Deps{
		DB:     DBManager,
		Logger: Logger,
	})
}

// storageKind reports the effective backend name for logs and status.
func storageKind() string {
	kind := strings.ToLower(config.GetStorageConfig().Type)
	if kind == "" {
		kind = "memory"
	}
	return kind
}

// httpToWS converts an http(s) URL to its ws(s) equivalent. URLs
// already speaking ws pass through.
func httpToWS(url string) string {
	url = strings.TrimRight(url, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url
}
