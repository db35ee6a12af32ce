package adaptive

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCalibrations reads item parameters from a YAML (or JSON) file mapping
// item identifiers to their calibration:
//
//	Q1: {difficulty: -0.5, discrimination: 1.2}
//	Q2: {difficulty: 0.8}
func LoadCalibrations(path string) (map[string]Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibrations: %w", err)
	}

	cals := make(map[string]Calibration)
	if err := yaml.Unmarshal(data, &cals); err != nil {
		return nil, fmt.Errorf("parse calibrations %s: %w", path, err)
	}
	return cals, nil
}
