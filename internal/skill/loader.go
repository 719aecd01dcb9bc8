package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"inkwell/internal/logging"
)

// skillFile is the on-disk YAML shape. A file may hold a single skill or a
// list under a top-level "skills" key.
type skillFile struct {
	Skills []Definition `yaml:"skills"`
}

// LoadDir loads user-authored skill packs from every .yaml/.yml file in dir,
// registering them over any built-in with the same id. A missing directory is
// not an error: most workspaces have no custom skills.
// Returns the number of skills loaded.
func (s *Store) LoadDir(dir string) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "skill.LoadDir")
	defer timer.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read skills directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		n, err := s.loadFile(path)
		if err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to load skill pack %s: %v", path, err)
			continue
		}
		loaded += n
	}

	if loaded > 0 {
		logging.Store("Loaded %d user skill(s) from %s", loaded, dir)
	}
	return loaded, nil
}

func (s *Store) loadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read skill file: %w", err)
	}

	var sf skillFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("failed to parse skill file: %w", err)
	}

	defs := sf.Skills
	if len(defs) == 0 {
		// Fall back to a single top-level skill definition.
		var single Definition
		if err := yaml.Unmarshal(data, &single); err != nil || single.ID == "" {
			return 0, fmt.Errorf("no skills found in %s", filepath.Base(path))
		}
		defs = []Definition{single}
	}

	count := 0
	for _, d := range defs {
		if err := s.Register(d); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping skill in %s: %v", filepath.Base(path), err)
			continue
		}
		count++
	}
	return count, nil
}
