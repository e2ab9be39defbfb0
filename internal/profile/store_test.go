package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestLoadProfileYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme_dental", "profile.yaml"), `business_name: Acme Dental
domain: acmedental.com
services: [implants, whitening]
negative_keywords: [free, jobs]
url_inventory:
  - https://acmedental.com/
  - url: https://acmedental.com/implants
    title: Dental Implants
`)
	store := NewFileStore(dir)

	p, err := store.LoadProfile("Acme Dental")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.ClientID != "acme_dental" {
		t.Fatalf("expected client id from slug, got %q", p.ClientID)
	}
	if len(p.URLInventory) != 2 || p.URLInventory[0].URL != "https://acmedental.com/" || p.URLInventory[1].Title != "Dental Implants" {
		t.Fatalf("unexpected url inventory: %+v", p.URLInventory)
	}
	if len(p.NegativeKeywords) != 2 || p.Audience != "" || p.NegativeCategories != nil {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestLoadProfileJSONFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "globex", "profile.json"), `{"client_id": "globex", "business_name": "Globex", "locations": ["Springfield"]}`)

	p, err := NewFileStore(dir).LoadProfile("globex")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.BusinessName != "Globex" || len(p.Locations) != 1 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).LoadProfile("nobody")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestLoadProfileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad", "profile.yaml"), "services: [unclosed\n")
	if _, err := NewFileStore(dir).LoadProfile("bad"); err == nil || errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestSaveAndListProfiles(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.SaveProfile(domain.ClientProfile{BusinessName: "Initech Dental", Services: []string{"cleaning"}}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}
	if err := store.SaveProfile(domain.ClientProfile{}); err == nil {
		t.Fatal("expected an error for a profile without identity")
	}

	clients, err := store.ListClients()
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 1 || clients[0] != "initech_dental" {
		t.Fatalf("unexpected clients: %v", clients)
	}
	p, err := store.LoadProfile("initech_dental")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.BusinessName != "Initech Dental" || len(p.Services) != 1 {
		t.Fatalf("unexpected round trip: %+v", p)
	}
}
