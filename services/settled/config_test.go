package settled

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeYAML(t, "listen: \":9000\"\nadmin:\n  bearer_token: \" op \"\n"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, "./settled-data", cfg.Storage.Path)
	require.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, "op", cfg.Admin.BearerToken)
}

func TestLoadConfigParsesDurations(t *testing.T) {
	cfg, err := LoadConfig(writeYAML(t, `
storage:
  backend: Bolt
  path: /tmp/settled.db
require_authorization: true
http:
  read_timeout: 2s
  shutdown_timeout: 500ms
log_file:
  path: /tmp/settled.log
admin:
  jwt:
    hmac_secret: secret
    clock_skew: 30s
`))
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.True(t, cfg.RequireAuthorization)
	require.Equal(t, 2*time.Second, cfg.HTTP.ReadTimeout.Duration)
	require.Equal(t, 500*time.Millisecond, cfg.HTTP.ShutdownTimeout.Duration)
	require.Equal(t, 100, cfg.LogFile.MaxSizeMB)
	require.Equal(t, 30*time.Second, cfg.Admin.JWT.ClockSkew.Duration)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(writeYAML(t, "storage:\n  backend: redis\nadmin:\n  bearer_token: op\n"))
	require.Error(t, err)
	_, err = LoadConfig(writeYAML(t, "http:\n  read_timeout: soon\n"))
	require.Error(t, err)
	_, err = LoadConfig(writeYAML(t, "unknown_key: 1\n"))
	require.Error(t, err)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfigAdminAuthentication(t *testing.T) {
	_, err := LoadConfig(writeYAML(t, "listen: \":9000\"\n"))
	require.ErrorContains(t, err, "admin authentication")

	tokenPath := filepath.Join(t.TempDir(), "admin.token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("from-file\n"), 0o600))
	cfg, err := LoadConfig(writeYAML(t, "admin:\n  bearer_token: inline\n  bearer_token_file: "+tokenPath+"\n"))
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Admin.BearerToken)

	_, err = LoadConfig(writeYAML(t, "admin:\n  bearer_token_file: "+filepath.Join(t.TempDir(), "missing")+"\n"))
	require.Error(t, err)

	_, err = LoadConfig(writeYAML(t, "admin:\n  mtls:\n    enabled: true\n    client_ca: ca.pem\n"))
	require.ErrorContains(t, err, "tls.cert")

	_, err = LoadConfig(writeYAML(t, "admin:\n  mtls:\n    enabled: true\ntls:\n  cert: c.pem\n  key: k.pem\n"))
	require.ErrorContains(t, err, "client_ca")

	cfg, err = LoadConfig(writeYAML(t, "admin:\n  mtls:\n    enabled: true\n    client_ca: ca.pem\ntls:\n  cert: c.pem\n  key: k.pem\n"))
	require.NoError(t, err)
	require.True(t, cfg.Admin.MTLS.Enabled)
}

func TestServerTLSConfig(t *testing.T) {
	tlsConfig, err := serverTLSConfig(Config{})
	require.NoError(t, err)
	require.Nil(t, tlsConfig)

	cfg := Config{TLS: TLSConfig{CertPath: "c.pem", KeyPath: "k.pem"}}
	tlsConfig, err = serverTLSConfig(cfg)
	require.NoError(t, err)
	require.Nil(t, tlsConfig.ClientCAs)

	cfg.Admin.MTLS = MTLSConfig{Enabled: true, ClientCAPath: filepath.Join(t.TempDir(), "missing.pem")}
	_, err = serverTLSConfig(cfg)
	require.Error(t, err)

	junk := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o600))
	cfg.Admin.MTLS.ClientCAPath = junk
	_, err = serverTLSConfig(cfg)
	require.ErrorContains(t, err, "no certificates")
}
