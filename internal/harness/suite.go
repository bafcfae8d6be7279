package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NoScenariosError is returned when a scenario directory holds no scenario files.
type NoScenariosError struct {
	Dir string
}

// Error implements the error interface.
func (e *NoScenariosError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml, *.yml) found in %s", e.Dir)
}

// ScenarioFiles returns the scenario files directly under dir, sorted by name.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, &NoScenariosError{Dir: dir}
	}
	sort.Strings(files)
	return files, nil
}

// LoadScenarios loads every scenario file under dir. Scenario names must
// be unique since they name golden files.
func LoadScenarios(dir string) ([]*Scenario, error) {
	files, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(files))
	scenarios := make([]*Scenario, 0, len(files))
	for _, path := range files {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", path, s.Name, prev)
		}
		seen[s.Name] = path
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}
