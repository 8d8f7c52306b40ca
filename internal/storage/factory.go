package storage

import (
	"fmt"
	"log/slog"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/storage/db"
	"github.com/jluethi/TissueMAPS/internal/storage/memory"
	"github.com/jluethi/TissueMAPS/internal/storage/websocket"
)

// Deps carries shared services a backend may need.
type Deps struct {
	DB     *database.Manager
	Logger *slog.Logger
}

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg config.StorageConfig, deps Deps) (Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(cfg.Memory), nil
	case "db":
		if deps.DB == nil {
			return nil, fmt.Errorf("db backend requires a database manager")
		}
		return db.New(deps.DB), nil
	case "websocket":
		if cfg.Websocket.URL == "" {
			return nil, fmt.Errorf("websocket backend requires a URL")
		}
		return websocket.New(websocket.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
