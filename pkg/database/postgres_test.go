package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/pkg/config"
)

func TestNew_NotConfigured(t *testing.T) {
	db, err := New(context.Background(), &config.Config{})
	assert.Nil(t, db)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew_InvalidURL(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{URL: "://not-a-url", MaxConns: 1}}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, db.Ping(ctx))
}
