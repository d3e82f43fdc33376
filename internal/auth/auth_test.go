package auth

import (
	"testing"

	"github.com/straja-ai/liverstage/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{Clients: []config.ClientConfig{
		{ID: "clinic-a", APIKeys: []string{"ka1", "ka2", ""}},
		{ID: "clinic-b", APIKeys: []string{"kb"}},
	}}}

	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if !a.Enabled() {
		t.Fatalf("expected auth enabled")
	}
	if c, ok := a.Lookup("ka2"); !ok || c.ID != "clinic-a" {
		t.Fatalf("lookup ka2 = %+v %v", c, ok)
	}
	if _, ok := a.Lookup(""); ok {
		t.Fatalf("empty key must not match")
	}
	if _, ok := a.Lookup("nope"); ok {
		t.Fatalf("unknown key must not match")
	}
}

func TestNewFromConfigRejectsDuplicatesAndEmptyID(t *testing.T) {
	dup := &config.Config{Auth: config.AuthConfig{Clients: []config.ClientConfig{
		{ID: "a", APIKeys: []string{"k"}},
		{ID: "b", APIKeys: []string{"k"}},
	}}}
	if _, err := NewFromConfig(dup); err == nil {
		t.Fatalf("expected duplicate key error")
	}

	empty := &config.Config{Auth: config.AuthConfig{Clients: []config.ClientConfig{{APIKeys: []string{"k"}}}}}
	if _, err := NewFromConfig(empty); err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestNoClientsMeansOpen(t *testing.T) {
	a, err := NewFromConfig(&config.Config{})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if a.Enabled() {
		t.Fatalf("no clients should leave auth disabled")
	}
	var nilAuth *Auth
	if nilAuth.Enabled() {
		t.Fatalf("nil auth should be disabled")
	}
}
