package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultGates is the built-in seed used when no seed file is configured.
func DefaultGates() []GateRecord {
	return []GateRecord{
		{ID: "gate1", Name: "Main Street Crossing", Latitude: 37.7749, Longitude: -122.4194, Status: StatusClosed, EstimatedWaitTime: "8 min"},
		{ID: "gate2", Name: "Elm Avenue Gate", Latitude: 37.7790, Longitude: -122.4290, Status: StatusOpen, EstimatedWaitTime: WaitUnknown},
		{ID: "gate3", Name: "Oak Road Junction", Latitude: 37.7700, Longitude: -122.4100, Status: StatusClosed, EstimatedWaitTime: "12 min"},
		{ID: "gate4", Name: "Pine St. Rail Access", Latitude: 37.7850, Longitude: -122.4050, Status: StatusOpen, EstimatedWaitTime: WaitUnknown},
	}
}

type seedFile struct {
	Gates []GateRecord `yaml:"gates"`
}

// ParseSeed decodes a YAML document of the form `gates: [...]`.
func ParseSeed(data []byte) ([]GateRecord, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse gate seed: %w", err)
	}
	if len(f.Gates) == 0 {
		return nil, fmt.Errorf("gate seed contains no gates")
	}
	return f.Gates, nil
}

// Load builds a registry from path, or from DefaultGates when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(DefaultGates())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate seed: %w", err)
	}
	gates, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}
	return New(gates)
}
