package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/config"
	"github.com/jason-s-yu/sequence/internal/lock"
	"github.com/jason-s-yu/sequence/internal/presence"
	"github.com/jason-s-yu/sequence/internal/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOpenMemoryWithoutRedis(t *testing.T) {
	cfg := config.Default()
	cfg.StoreDriver = "memory"
	cfg.RedisAddr = "127.0.0.1:1"

	in, err := Open(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer in.Close()

	assert.IsType(t, &store.Memory{}, in.Store)
	assert.IsType(t, &lock.Memory{}, in.Locker)
	assert.IsType(t, &presence.Memory{}, in.Presence)
	assert.Nil(t, in.Audit)
	assert.Nil(t, in.Events)

	j := in.Janitor(cfg, quietLogger())
	assert.Nil(t, j.Events)
	assert.NotNil(t, in.Engine(cfg, nil, quietLogger()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.StoreDriver = "sqlite"
	_, err := Open(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestAuthorityGeneratesWithoutKeys(t *testing.T) {
	cfg := config.Default()
	a, err := Authority(cfg, quietLogger())
	require.NoError(t, err)

	tok, err := a.CreateJWT("u1", false)
	require.NoError(t, err)
	id, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
}
