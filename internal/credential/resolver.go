// Package credential resolves the Mawared bearer token from an ordered list
// of sources and keeps a short-lived copy in memory.
package credential

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
)

// Source names where a credential was found.
type Source string

const (
	SourceEnvironment   Source = "environment"
	SourceDurableConfig Source = "durable-config"
	SourcePrimaryFile   Source = "primary-file"
	SourceBackupFile    Source = "backup-file"
	// SourceUpdate marks a credential installed through Update.
	SourceUpdate Source = "update"
)

const cacheKey = "credential"

// Credential is a resolved bearer token.
type Credential struct {
	Value      string
	Source     Source
	AcquiredAt time.Time
}

// Masked returns a printable form that never reveals the whole token.
func (c Credential) Masked() string {
	return Mask(c.Value)
}

// Mask keeps the first and last four characters of v.
func Mask(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// Resolver implements the credential fallback chain. It is safe for
// concurrent use.
type Resolver struct {
	mu     sync.Mutex
	cfg    config.CredentialConfig
	cache  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a resolver for the given sources.
func NewResolver(cfg config.CredentialConfig, logger *zap.Logger) *Resolver {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cfg.CacheTTL = ttl
	if cfg.MinLength <= 0 {
		cfg.MinLength = 10
	}
	return &Resolver{
		cfg:    cfg,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
		now:    time.Now,
	}
}

// Resolve returns the cached credential or walks the sources in priority
// order. A hit in a lower-priority source is copied into the sources above it.
func (r *Resolver) Resolve() (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.(Credential), nil
	}

	cred, err := r.lookup()
	if err != nil {
		r.logger.Warn("No usable credential in any source")
		return Credential{}, err
	}
	r.cache.Set(cacheKey, cred, cache.DefaultExpiration)
	r.logger.Info("Credential resolved",
		zap.String("source", string(cred.Source)),
		zap.String("credential", cred.Masked()))
	return cred, nil
}

func (r *Resolver) lookup() (Credential, error) {
	now := r.now()

	if v := strings.TrimSpace(os.Getenv(r.cfg.EnvKey)); r.usable(v) {
		return Credential{Value: v, Source: SourceEnvironment, AcquiredAt: now}, nil
	}

	if v := r.readDurable(); r.usable(v) {
		r.setEnv(v)
		return Credential{Value: v, Source: SourceDurableConfig, AcquiredAt: now}, nil
	}

	if v := r.readEncoded(r.cfg.PrimaryFile); r.usable(v) {
		r.setEnv(v)
		r.writeDurable(v)
		return Credential{Value: v, Source: SourcePrimaryFile, AcquiredAt: now}, nil
	}

	if v := r.readEncoded(r.cfg.BackupFile); r.usable(v) {
		r.setEnv(v)
		r.writeDurable(v)
		r.writeEncoded(r.cfg.PrimaryFile, v)
		return Credential{Value: v, Source: SourceBackupFile, AcquiredAt: now}, nil
	}

	return Credential{}, errs.Wrapf(errs.ErrCredentialNotFound, "checked %s, %s, %s and %s",
		r.cfg.EnvKey, r.cfg.EnvFile, r.cfg.PrimaryFile, r.cfg.BackupFile)
}

// Update validates value and writes it to every source.
func (r *Resolver) Update(value string) (Credential, error) {
	value = strings.TrimSpace(value)
	if !r.usable(value) {
		return Credential{}, errs.Wrapf(errs.ErrCredentialInvalid, "credential shorter than %d characters", r.cfg.MinLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Delete(cacheKey)
	r.setEnv(value)

	// The process keeps using the new value either way; the error tells the
	// caller it will not survive a restart.
	configured, failed := 0, 0
	for _, write := range []struct {
		path string
		fn   func() error
	}{
		{r.cfg.EnvFile, func() error { return r.writeDurable(value) }},
		{r.cfg.PrimaryFile, func() error { return r.writeEncoded(r.cfg.PrimaryFile, value) }},
		{r.cfg.BackupFile, func() error { return r.writeEncoded(r.cfg.BackupFile, value) }},
	} {
		if write.path == "" {
			continue
		}
		configured++
		if err := write.fn(); err != nil {
			failed++
		}
	}

	cred := Credential{Value: value, Source: SourceUpdate, AcquiredAt: r.now()}
	r.cache.Set(cacheKey, cred, cache.DefaultExpiration)
	if configured > 0 && failed == configured {
		r.logger.Error("Credential updated in memory only", zap.String("credential", cred.Masked()))
		return cred, errs.Wrapf(errs.ErrCredentialNotPersisted, "all %d credential writes failed", configured)
	}
	r.logger.Info("Credential updated", zap.String("credential", cred.Masked()), zap.Int("failed_writes", failed))
	return cred, nil
}

// Invalidate drops the cached credential. The next Resolve reads the
// sources again. The sources themselves are left untouched.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(cacheKey)
	r.logger.Info("Credential cache invalidated")
}

func (r *Resolver) usable(v string) bool {
	return len(v) >= r.cfg.MinLength
}

func (r *Resolver) setEnv(v string) {
	if err := os.Setenv(r.cfg.EnvKey, v); err != nil {
		r.logger.Warn("Failed to set credential environment variable", zap.Error(err))
	}
}

func (r *Resolver) readDurable() string {
	if r.cfg.EnvFile == "" {
		return ""
	}
	values, err := godotenv.Read(r.cfg.EnvFile)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to read durable config", zap.String("path", r.cfg.EnvFile), zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(values[r.cfg.EnvKey])
}

func (r *Resolver) writeDurable(v string) error {
	if r.cfg.EnvFile == "" {
		return nil
	}
	values, err := godotenv.Read(r.cfg.EnvFile)
	if err != nil {
		values = map[string]string{}
	}
	values[r.cfg.EnvKey] = v
	if err := ensureDir(r.cfg.EnvFile); err != nil {
		r.logger.Warn("Failed to create durable config directory", zap.Error(err))
		return err
	}
	if err := godotenv.Write(values, r.cfg.EnvFile); err != nil {
		r.logger.Warn("Failed to write durable config", zap.String("path", r.cfg.EnvFile), zap.Error(err))
		return err
	}
	_ = os.Chmod(r.cfg.EnvFile, 0o600)
	return nil
}

func (r *Resolver) readEncoded(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to read credential file", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	enc := strings.TrimSpace(string(raw))
	if enc == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		r.logger.Warn("Credential file is not base64", zap.String("path", path))
		return ""
	}
	return strings.TrimSpace(string(decoded))
}

func (r *Resolver) writeEncoded(path, v string) error {
	if path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		r.logger.Warn("Failed to create credential directory", zap.String("path", path), zap.Error(err))
		return err
	}
	enc := base64.StdEncoding.EncodeToString([]byte(v))
	if err := os.WriteFile(path, []byte(enc), 0o600); err != nil {
		r.logger.Warn("Failed to write credential file", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}
