package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors"`
}

// FindScenarios returns the *.yaml and *.yml files in dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario in dir.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}

	res := &SuiteResult{}
	for _, path := range paths {
		res.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			res.fail(ScenarioFailure{Path: path, Errors: []string{err.Error()}})
			continue
		}

		result, err := Run(scenario)
		if err != nil {
			res.fail(ScenarioFailure{Path: path, Name: scenario.Name, Errors: []string{err.Error()}})
			continue
		}
		if !result.Pass {
			res.fail(ScenarioFailure{Path: path, Name: scenario.Name, Errors: result.Errors})
			continue
		}
		res.Passed++
	}
	return res, nil
}

func (r *SuiteResult) fail(f ScenarioFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}
