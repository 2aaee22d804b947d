package credential

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
)

const testEnvKey = "MAWARED_TOKEN_TEST"

func newTestResolver(t *testing.T) (*Resolver, config.CredentialConfig) {
	t.Helper()
	dir := t.TempDir()
	// Registers cleanup so values set by back-fill do not leak between tests.
	t.Setenv(testEnvKey, "")

	cfg := config.CredentialConfig{
		EnvKey:      testEnvKey,
		EnvFile:     filepath.Join(dir, ".env"),
		PrimaryFile: filepath.Join(dir, "data", "token.txt"),
		BackupFile:  filepath.Join(dir, "data", "token_backup.txt"),
		CacheTTL:    time.Hour,
		MinLength:   10,
	}
	return NewResolver(cfg, zap.NewNop()), cfg
}

func writeEncoded(t *testing.T, path, value string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte(value))), 0o600))
}

func readEncoded(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	require.NoError(t, err)
	return string(decoded)
}

func TestResolve_FallbackOrderAndBackfill(t *testing.T) {
	r, cfg := newTestResolver(t)
	writeEncoded(t, cfg.PrimaryFile, "ABC123XYZ0")
	writeEncoded(t, cfg.BackupFile, "SOMETHING-ELSE-123")

	cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ABC123XYZ0", cred.Value)
	assert.Equal(t, SourcePrimaryFile, cred.Source)

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "ABC123XYZ0", values[testEnvKey], "durable config is back-filled")
	assert.Equal(t, "ABC123XYZ0", os.Getenv(testEnvKey))
}

func TestResolve_EnvironmentWins(t *testing.T) {
	r, cfg := newTestResolver(t)
	t.Setenv(testEnvKey, "FROM-ENVIRONMENT")
	require.NoError(t, godotenv.Write(map[string]string{testEnvKey: "FROM-DOTENV-FILE"}, cfg.EnvFile))
	writeEncoded(t, cfg.PrimaryFile, "FROM-PRIMARY-FILE")

	cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "FROM-ENVIRONMENT", cred.Value)
	assert.Equal(t, SourceEnvironment, cred.Source)
}

func TestResolve_DurableConfigBeforeFiles(t *testing.T) {
	r, cfg := newTestResolver(t)
	require.NoError(t, godotenv.Write(map[string]string{testEnvKey: "FROM-DOTENV-FILE"}, cfg.EnvFile))
	writeEncoded(t, cfg.PrimaryFile, "FROM-PRIMARY-FILE")

	cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, SourceDurableConfig, cred.Source)
	assert.Equal(t, "FROM-DOTENV-FILE", os.Getenv(testEnvKey))
}

func TestResolve_BackupRestoresPrimary(t *testing.T) {
	r, cfg := newTestResolver(t)
	writeEncoded(t, cfg.BackupFile, "BACKUP-TOKEN-VALUE")

	cred, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, SourceBackupFile, cred.Source)
	assert.Equal(t, "BACKUP-TOKEN-VALUE", readEncoded(t, cfg.PrimaryFile))
}

func TestResolve_ShortValuesAreSkipped(t *testing.T) {
	r, cfg := newTestResolver(t)
	t.Setenv(testEnvKey, "short")
	writeEncoded(t, cfg.PrimaryFile, "tiny")

	_, err := r.Resolve()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrCredentialNotFound))
}

func TestResolve_CachedUntilInvalidated(t *testing.T) {
	r, cfg := newTestResolver(t)
	writeEncoded(t, cfg.PrimaryFile, "FIRST-TOKEN-0001")

	first, err := r.Resolve()
	require.NoError(t, err)

	// The source changes underneath; the cache keeps serving the old value.
	t.Setenv(testEnvKey, "ROTATED-TOKEN-0002")
	cached, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, first.Value, cached.Value)

	r.Invalidate()

	fresh, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ROTATED-TOKEN-0002", fresh.Value)
	assert.Equal(t, SourceEnvironment, fresh.Source)
}

func TestUpdate(t *testing.T) {
	r, cfg := newTestResolver(t)

	_, err := r.Update("too-short")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrCredentialInvalid))

	cred, err := r.Update("  NEW-TOKEN-123456  ")
	require.NoError(t, err)
	assert.Equal(t, "NEW-TOKEN-123456", cred.Value)

	assert.Equal(t, "NEW-TOKEN-123456", readEncoded(t, cfg.PrimaryFile))
	assert.Equal(t, "NEW-TOKEN-123456", readEncoded(t, cfg.BackupFile))
	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "NEW-TOKEN-123456", values[testEnvKey])

	info, err := os.Stat(cfg.PrimaryFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "NEW-TOKEN-123456", got.Value)
}

func TestUpdate_ReportsWhenNothingIsSaved(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(testEnvKey, "")
	// A regular file where a directory is expected makes every write fail.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.CredentialConfig{
		EnvKey:      testEnvKey,
		EnvFile:     filepath.Join(blocker, ".env"),
		PrimaryFile: filepath.Join(blocker, "token.txt"),
		BackupFile:  filepath.Join(blocker, "token_backup.txt"),
		CacheTTL:    time.Hour,
		MinLength:   10,
	}
	r := NewResolver(cfg, zap.NewNop())

	cred, err := r.Update("NEW-TOKEN-123456")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrCredentialNotPersisted))
	assert.Equal(t, "NEW-TOKEN-123456", cred.Value)

	// The value is still usable by this process.
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "NEW-TOKEN-123456", got.Value)

	// One durable source is enough.
	cfg.BackupFile = filepath.Join(dir, "data", "token_backup.txt")
	r = NewResolver(cfg, zap.NewNop())
	_, err = r.Update("NEW-TOKEN-123456")
	require.NoError(t, err)
	assert.Equal(t, "NEW-TOKEN-123456", readEncoded(t, cfg.BackupFile))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "ABC1**XYZ0", Mask("ABC1__XYZ0"))
	assert.Equal(t, "*****", Mask("short"))
	assert.NotContains(t, Credential{Value: "SECRET-TOKEN-VALUE"}.Masked(), "TOKEN")
}
