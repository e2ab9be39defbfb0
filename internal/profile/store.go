package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

var ErrProfileNotFound = errors.New("client profile not found")

// FileStore reads client profiles from Dir/<client_id>/profile.yaml, falling
// back to profile.json.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) LoadProfile(clientID string) (domain.ClientProfile, error) {
	slug := domain.Slugify(clientID)
	if slug == "" {
		return domain.ClientProfile{}, fmt.Errorf("empty client id: %w", ErrProfileNotFound)
	}
	base := filepath.Join(s.Dir, slug)

	var p domain.ClientProfile
	data, err := os.ReadFile(filepath.Join(base, "profile.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return domain.ClientProfile{}, fmt.Errorf("parse profile %s: %w", slug, err)
		}
	case errors.Is(err, os.ErrNotExist):
		data, err = os.ReadFile(filepath.Join(base, "profile.json"))
		if errors.Is(err, os.ErrNotExist) {
			return domain.ClientProfile{}, fmt.Errorf("%s: %w", slug, ErrProfileNotFound)
		}
		if err != nil {
			return domain.ClientProfile{}, err
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return domain.ClientProfile{}, fmt.Errorf("parse profile %s: %w", slug, err)
		}
	default:
		return domain.ClientProfile{}, err
	}

	if p.ClientID == "" {
		p.ClientID = slug
	}
	return p, nil
}

// SaveProfile writes the profile as YAML under its slugified client id.
func (s *FileStore) SaveProfile(p domain.ClientProfile) error {
	slug := domain.Slugify(p.ClientID)
	if slug == "" {
		slug = domain.Slugify(p.DisplayName())
	}
	if slug == "" {
		return fmt.Errorf("profile has no client id, name or domain")
	}
	p.ClientID = slug
	dir := filepath.Join(s.Dir, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "profile.yaml"), data, 0o644)
}

// ListClients returns the ids of every client directory holding a profile.
func (s *FileStore) ListClients() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, name := range []string{"profile.yaml", "profile.json"} {
			if _, err := os.Stat(filepath.Join(s.Dir, e.Name(), name)); err == nil {
				out = append(out, e.Name())
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
