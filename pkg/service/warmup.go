package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/verdictai/verdict-oss/pkg/domain"
)

// LoadWarmupFile reads a YAML file containing a list of sample requests used
// to pre-populate the cache at startup.
func LoadWarmupFile(path string) ([]domain.PolicyRequest, error) {
	//nolint:gosec // Warmup file path is controlled by admin/operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read warmup file %s: %w", path, err)
	}

	var doc struct {
		Requests []domain.PolicyRequest `yaml:"requests"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse warmup file %s: %w", path, err)
	}
	return doc.Requests, nil
}
