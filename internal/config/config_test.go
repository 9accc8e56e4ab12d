package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DLTCAN_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DLT.Port != 3491 {
		t.Fatalf("expected default DLT port 3491, got %d", cfg.DLT.Port)
	}
	if cfg.DLT.ApplicationID != "DLT" || cfg.DLT.ContextID != "Mini" {
		t.Fatalf("unexpected ids %q %q", cfg.DLT.ApplicationID, cfg.DLT.ContextID)
	}
	if cfg.CAN.Active {
		t.Fatalf("CAN link must be inactive by default")
	}
	if cfg.EventEncoding != "json" {
		t.Fatalf("unexpected encoding %q", cfg.EventEncoding)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DLTCAN_CONFIG", "")
	t.Setenv("CAN_INTERFACE", "/dev/ttyACM0")
	t.Setenv("CAN_ACTIVE", "true")
	t.Setenv("DLT_PORT", "4000")
	t.Setenv("DLT_CONTEXT_ID", "CAN1")
	t.Setenv("EVENT_ENCODING", "CBOR")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.CAN.Interface != "/dev/ttyACM0" || !cfg.CAN.Active {
		t.Fatalf("unexpected CAN config %+v", cfg.CAN)
	}
	if cfg.DLT.Port != 4000 || cfg.DLT.ContextID != "CAN1" {
		t.Fatalf("unexpected DLT config %+v", cfg.DLT)
	}
	if cfg.EventEncoding != "cbor" {
		t.Fatalf("unexpected encoding %q", cfg.EventEncoding)
	}
	if cfg.HTTPPort != 8081 {
		t.Fatalf("invalid integer must keep the default, got %d", cfg.HTTPPort)
	}
}

func TestLoadFileAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dltcan.yaml")

	content := `
can:
  interface: /dev/ttyUSB3
  interface_serial_number: "5A3E"
  interface_vendor_identifier: 6790
  interface_product_identifier: 29987
  active: true
  message_id: 256
  message_data: "0102"
  cyclic:
    - active: true
      timeout_ms: 100
      id: 512
      data: "11"
    - active: false
dlt:
  port: 3500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DLTCAN_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Path != path {
		t.Fatalf("expected path %q, got %q", path, cfg.Path)
	}
	if cfg.CAN.Interface != "/dev/ttyUSB3" || cfg.CAN.SerialNumber != "5A3E" {
		t.Fatalf("unexpected CAN config %+v", cfg.CAN)
	}
	if cfg.CAN.VendorID != 6790 || cfg.CAN.ProductID != 29987 {
		t.Fatalf("unexpected identity %+v", cfg.CAN)
	}
	if !cfg.CAN.Cyclic[0].Active || cfg.CAN.Cyclic[0].TimeoutMs != 100 || cfg.CAN.Cyclic[0].ID != 512 {
		t.Fatalf("unexpected cyclic slot %+v", cfg.CAN.Cyclic[0])
	}
	if cfg.DLT.Port != 3500 || cfg.DLT.ApplicationID != "DLT" {
		t.Fatalf("file values must merge with defaults, got %+v", cfg.DLT)
	}

	out := filepath.Join(dir, "saved.yaml")
	if err := cfg.Save(out); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	reloaded, err := LoadFile(out)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if reloaded.CAN != cfg.CAN || reloaded.DLT != cfg.DLT {
		t.Fatalf("saved config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Setenv("DLTCAN_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.EventEncoding = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown encoding")
	}

	cfg = Default()
	cfg.CAN.Cyclic[1].Active = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for active slot without timeout")
	}

	cfg = Default()
	cfg.DLT.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}
