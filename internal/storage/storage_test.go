package storage

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/storage/db"
	"github.com/jluethi/TissueMAPS/internal/storage/memory"
	"github.com/jluethi/TissueMAPS/internal/storage/websocket"
)

// Compile-time interface checks for every backend.
var (
	_ Backend    = (*memory.Backend)(nil)
	_ Backend    = (*db.Backend)(nil)
	_ Backend    = (*websocket.Backend)(nil)
	_ Exportable = (*memory.Backend)(nil)
)

func TestNewBackendDefaultsToMemory(t *testing.T) {
	for _, typ := range []string{"", "memory"} {
		b, err := NewBackend(config.StorageConfig{Type: typ}, Deps{})
		require.NoError(t, err, "type %q", typ)
		assert.IsType(t, &memory.Backend{}, b)
	}
}

func TestNewBackendDB(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Type: "db"}, Deps{})
	require.Error(t, err)

	manager := database.NewManager(zerolog.Nop())
	b, err := NewBackend(config.StorageConfig{Type: "db"}, Deps{DB: manager})
	require.NoError(t, err)
	assert.IsType(t, &db.Backend{}, b)
}

func TestNewBackendWebsocket(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Type: "websocket"}, Deps{})
	require.Error(t, err)

	cfg := config.StorageConfig{
		Type:      "websocket",
		Websocket: config.WebsocketConfig{URL: "ws://localhost:5003/sync", Secret: "s"},
	}
	b, err := NewBackend(cfg, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &websocket.Backend{}, b)
}

func TestNewBackendUnknownType(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Type: "carrier-pigeon"}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
