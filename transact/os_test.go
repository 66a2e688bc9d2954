//go:build unit

package transact

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenvOrDefault(t *testing.T) {
	t.Setenv("TEST_TRANSACT_STRING", "value")
	assert.Equal(t, "value", GetenvOrDefault("TEST_TRANSACT_STRING", "default"))

	t.Setenv("TEST_TRANSACT_BLANK", "   ")
	assert.Equal(t, "default", GetenvOrDefault("TEST_TRANSACT_BLANK", "default"))

	t.Setenv("TEST_TRANSACT_UNSET", "")
	require.NoError(t, os.Unsetenv("TEST_TRANSACT_UNSET"))
	assert.Equal(t, "default", GetenvOrDefault("TEST_TRANSACT_UNSET", "default"))
}

func TestGetenvBoolOrDefault(t *testing.T) {
	t.Setenv("TEST_TRANSACT_BOOL", "true")
	assert.True(t, GetenvBoolOrDefault("TEST_TRANSACT_BOOL", false))

	t.Setenv("TEST_TRANSACT_BOOL", "false")
	assert.False(t, GetenvBoolOrDefault("TEST_TRANSACT_BOOL", true))

	t.Setenv("TEST_TRANSACT_BOOL", "maybe")
	assert.True(t, GetenvBoolOrDefault("TEST_TRANSACT_BOOL", true))
}

func TestGetenvIntOrDefault(t *testing.T) {
	t.Setenv("TEST_TRANSACT_INT", "-42")
	assert.Equal(t, int64(-42), GetenvIntOrDefault("TEST_TRANSACT_INT", 0))

	t.Setenv("TEST_TRANSACT_INT", "4.2")
	assert.Equal(t, int64(99), GetenvIntOrDefault("TEST_TRANSACT_INT", 99))
}

func TestGetenvDurationOrDefault(t *testing.T) {
	t.Setenv("TEST_TRANSACT_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetenvDurationOrDefault("TEST_TRANSACT_DURATION", time.Second))

	t.Setenv("TEST_TRANSACT_DURATION", "90")
	assert.Equal(t, time.Second, GetenvDurationOrDefault("TEST_TRANSACT_DURATION", time.Second))
}

func TestSetConfigFromEnvVars(t *testing.T) {
	type config struct {
		StringField   string        `env:"TEST_STRING_FIELD"`
		BoolField     bool          `env:"TEST_BOOL_FIELD"`
		IntField      int64         `env:"TEST_INT_FIELD"`
		SmallInt      int           `env:"TEST_SMALL_INT_FIELD"`
		Timeout       time.Duration `env:"TEST_DURATION_FIELD"`
		Kept          string        `env:"TEST_KEPT_FIELD_XYZ"`
		Untagged      string
		unexportedTag string `env:"TEST_STRING_FIELD"`
	}

	t.Setenv("TEST_STRING_FIELD", "test-value")
	t.Setenv("TEST_BOOL_FIELD", "true")
	t.Setenv("TEST_INT_FIELD", "123")
	t.Setenv("TEST_SMALL_INT_FIELD", "7")
	t.Setenv("TEST_DURATION_FIELD", "250ms")
	t.Setenv("TEST_KEPT_FIELD_XYZ", "")

	cfg := &config{Kept: "default"}
	require.NoError(t, SetConfigFromEnvVars(cfg))

	assert.Equal(t, "test-value", cfg.StringField)
	assert.True(t, cfg.BoolField)
	assert.Equal(t, int64(123), cfg.IntField)
	assert.Equal(t, 7, cfg.SmallInt)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "default", cfg.Kept)
	assert.Empty(t, cfg.Untagged)
	assert.Empty(t, cfg.unexportedTag)
}

func TestSetConfigFromEnvVars_Errors(t *testing.T) {
	type config struct {
		Field int `env:"TEST_BAD_INT_FIELD"`
	}

	assert.ErrorIs(t, SetConfigFromEnvVars(config{}), ErrNotPointer)
	assert.ErrorIs(t, SetConfigFromEnvVars(nil), ErrNotPointer)

	var nilPtr *config
	assert.ErrorIs(t, SetConfigFromEnvVars(nilPtr), ErrNotPointer)

	t.Setenv("TEST_BAD_INT_FIELD", "twelve")

	err := SetConfigFromEnvVars(&config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_BAD_INT_FIELD")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	stdout := os.Stdout

	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = writer

	var output bytes.Buffer

	done := make(chan error, 1)

	go func() {
		_, copyErr := io.Copy(&output, reader)
		done <- copyErr
	}()

	defer func() {
		os.Stdout = stdout
		require.NoError(t, reader.Close())
	}()

	fn()

	require.NoError(t, writer.Close())
	require.NoError(t, <-done)

	return output.String()
}

func resetLocalEnvConfig() {
	localEnvConfig = nil
	localEnvConfigOnce = sync.Once{}
}

func TestInitLocalEnvConfig_PrintsVersionAndEnvironment(t *testing.T) {
	t.Setenv("VERSION", "NO-VERSION")
	t.Setenv("ENV_NAME", "development")

	resetLocalEnvConfig()

	var result *LocalEnvConfig

	out := captureStdout(t, func() { result = InitLocalEnvConfig() })

	assert.Nil(t, result)
	assert.True(t, strings.Contains(out, "VERSION: NO-VERSION\n\nENVIRONMENT NAME: development\n\n"), out)
}

func TestInitLocalEnvConfig_LoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_TRANSACT_FROM_DOTENV=loaded\n"), 0o600))

	t.Chdir(dir)
	t.Setenv("ENV_NAME", "local")
	t.Setenv("TEST_TRANSACT_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("TEST_TRANSACT_FROM_DOTENV"))

	resetLocalEnvConfig()

	var result *LocalEnvConfig

	captureStdout(t, func() { result = InitLocalEnvConfig() })

	require.NotNil(t, result)
	assert.True(t, result.Initialized)
	assert.Equal(t, "loaded", os.Getenv("TEST_TRANSACT_FROM_DOTENV"))
}
