package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/AlessandroPerez/advanced-programming-of-cryptographic-methods-project-sub000/internal/crypto"
)

func validKeyB64(t *testing.T) string {
	t.Helper()
	priv, err := crypto.NewIdentityPrivateKey()
	if err != nil {
		t.Fatalf("NewIdentityPrivateKey: %v", err)
	}
	return base64.StdEncoding.EncodeToString(priv[:])
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	key := validKeyB64(t)
	path := writeConfig(t, `
server_ip = "127.0.0.1"
server_port = "8443"
private_key_server = "`+key+`"
public_key_server = "`+key+`"
log_level = "info"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "8443" {
		t.Fatalf("got port %q, want 8443", cfg.ServerPort)
	}
}

func TestLoadRejectsEmptyServerIP(t *testing.T) {
	key := validKeyB64(t)
	path := writeConfig(t, `
server_ip = ""
server_port = "8443"
private_key_server = "`+key+`"
public_key_server = "`+key+`"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty server_ip")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	key := validKeyB64(t)
	path := writeConfig(t, `
server_ip = "127.0.0.1"
server_port = "99999"
private_key_server = "`+key+`"
public_key_server = "`+key+`"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadRejectsMalformedKeyField(t *testing.T) {
	path := writeConfig(t, `
server_ip = "127.0.0.1"
server_port = "8443"
private_key_server = "not base64!!!"
public_key_server = "not base64!!!"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed key field")
	}
}

func TestLoadRejectsWrongLengthKey(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	path := writeConfig(t, `
server_ip = "127.0.0.1"
server_port = "8443"
private_key_server = "`+short+`"
public_key_server = "`+short+`"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for wrong-length key")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	key := validKeyB64(t)
	path := writeConfig(t, `
server_ip = "127.0.0.1"
server_port = "8443"
private_key_server = "`+key+`"
public_key_server = "`+key+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.LogLevel = "debug"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LogLevel != "debug" {
		t.Fatalf("got log_level %q, want debug", reloaded.LogLevel)
	}
}
