package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Game struct {
		TimeLimit   int
		FinishedTTL time.Duration
	}

	Redis struct {
		Addrs []string
	}
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  port: 8080
game:
  finishedttl: 10m
redis:
  addrs: ["localhost:6379"]
`), 0o600))

	t.Run("file should override defaults", func(t *testing.T) {
		var c testConfig
		c.Game.TimeLimit = 20
		c.Game.FinishedTTL = time.Hour

		require.NoError(t, config.Load(file, &c))

		assert.EqualValues(t, 8080, c.HTTP.Port)
		assert.Equal(t, 20, c.Game.TimeLimit, "unset keys keep their defaults")
		assert.Equal(t, 10*time.Minute, c.Game.FinishedTTL)
		assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	})

	t.Run("environment should override the file", func(t *testing.T) {
		t.Setenv("LIVEQUIZ_HTTP_PORT", "9090")
		t.Setenv("LIVEQUIZ_GAME_TIMELIMIT", "30")

		var c testConfig
		c.Game.TimeLimit = 20

		require.NoError(t, config.Load(file, &c, config.WithEnvPrefix("LIVEQUIZ")))

		assert.EqualValues(t, 9090, c.HTTP.Port)
		assert.Equal(t, 30, c.Game.TimeLimit)
	})

	t.Run("environment should override keys the file does not set", func(t *testing.T) {
		t.Setenv("LIVEQUIZ_GAME_TIMELIMIT", "45")

		var c testConfig
		c.Game.TimeLimit = 20
		c.Game.FinishedTTL = time.Hour

		require.NoError(t, config.Load(file, &c, config.WithEnvPrefix("LIVEQUIZ")))

		assert.Equal(t, 45, c.Game.TimeLimit)
		assert.Equal(t, 10*time.Minute, c.Game.FinishedTTL, "file values survive the merge")
		assert.EqualValues(t, 8080, c.HTTP.Port)
	})

	t.Run("missing file should fail", func(t *testing.T) {
		var c testConfig
		assert.Error(t, config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c))
	})

	t.Run("no file should keep defaults", func(t *testing.T) {
		var c testConfig
		c.Game.TimeLimit = 20

		require.NoError(t, config.Load("", &c))
		assert.Equal(t, 20, c.Game.TimeLimit)
	})
}
