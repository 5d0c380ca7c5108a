package config

import "testing"

func TestHolder_ConfigReturnsConstructedValue(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/tmp/config.toml")

	if h.Config() != cfg {
		t.Fatalf("expected Config() to return the constructed cfg")
	}

	if h.Path() != "/tmp/config.toml" {
		t.Fatalf("expected Path() to return the constructed path, got %q", h.Path())
	}
}

func TestHolder_UpdateReplacesConfig(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	next := DefaultConfig()
	next.Account.AccountID = "bob@example.com"
	h.Update(next)

	if h.Config().Account.AccountID != "bob@example.com" {
		t.Fatalf("expected Update to replace the held config")
	}
}
