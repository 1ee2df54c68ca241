package evaluator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadBundleDir reads every .rego module under dir (non-recursive) keyed by
// filename, in the shape NewOPAEngine expects.
func LoadBundleDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bundle dir %s: %w", dir, err)
	}

	modules := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		//nolint:gosec // Bundle directory is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", path, err)
		}
		modules[entry.Name()] = string(data)
	}

	if len(modules) == 0 {
		return nil, fmt.Errorf("bundle dir %s contains no rego modules", dir)
	}
	return modules, nil
}
