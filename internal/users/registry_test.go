package users

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestGetOrCreateWritesDefaults(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.GetOrCreate("u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.TimeZone != "UTC" || p.NotificationLeadTime != "15m" || p.MorningSummaryTime != "08:00" {
		t.Errorf("defaults = %+v", p)
	}

	data, err := os.ReadFile(filepath.Join(r.Dir(), "u1.json"))
	if err != nil {
		t.Fatalf("document not written: %v", err)
	}
	var onDisk Preferences
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("document not valid JSON: %v", err)
	}
	if onDisk.UserID != "u1" {
		t.Errorf("on-disk user_id = %q", onDisk.UserID)
	}
}

func TestUpdatePersists(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.GetOrCreate("u1"); err != nil {
		t.Fatal(err)
	}
	p, err := r.Update("u1", func(p *Preferences) {
		p.TimeZone = "Asia/Jerusalem"
		p.CalendarEnabled = true
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.TimeZone != "Asia/Jerusalem" || !p.CalendarEnabled {
		t.Errorf("update not applied: %+v", p)
	}

	// A fresh registry over the same directory sees the persisted value.
	r2, err := NewRegistry(r.Dir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r2.Get("u1")
	if !ok || got.TimeZone != "Asia/Jerusalem" {
		t.Errorf("persisted prefs = %+v, %v", got, ok)
	}
}

func TestStartupScanSkipsUnreadableDocuments(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "u1.json"), []byte(`{"user_id":"u1","timezone":"UTC"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := r.Get("u1"); !ok {
		t.Error("valid document not loaded")
	}
	if _, ok := r.Get("broken"); ok {
		t.Error("broken document should be skipped")
	}
}

func TestPartialDocumentFilledWithDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "u1.json"), []byte(`{"timezone":"Europe/London"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	p, ok := r.Get("u1")
	if !ok {
		t.Fatal("document not loaded")
	}
	if p.TimeZone != "Europe/London" {
		t.Errorf("timezone = %q", p.TimeZone)
	}
	if p.NotificationLeadTime != "15m" || p.WorkStartTime != "09:00" {
		t.Errorf("missing fields should fall back to defaults: %+v", p)
	}
}

func TestUpdateFirstTimeUserStartsFromDefaults(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Update("new-user", func(p *Preferences) {
		p.LastMorningTriggerDate = "2025-06-10"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.TimeZone != "UTC" || p.LastMorningTriggerDate != "2025-06-10" {
		t.Errorf("prefs = %+v", p)
	}
}
