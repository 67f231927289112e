// Package schedule looks up upcoming trains for a crossing. An empty result
// is valid; a fetch failure is always an error.
package schedule

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const missing = "N/A"

// ArrivalLayout renders timestamp arrivals, e.g. "03:04 PM".
const ArrivalLayout = "03:04 PM"

type Entry struct {
	TrainID     string `json:"trainId"`
	ArrivalTime string `json:"arrivalTime"`
	TrainType   string `json:"trainType"`
}

// Record is one stored schedule row. ArrivalTime is either display text or
// an RFC 3339 timestamp.
type Record struct {
	CrossingID  string `yaml:"crossingId" json:"crossingId"`
	TrainID     string `yaml:"trainId" json:"trainId"`
	ArrivalTime string `yaml:"arrivalTime" json:"arrivalTime"`
	TrainType   string `yaml:"trainType" json:"trainType"`
}

// ArrivalAt returns the arrival as a timestamp when it is one.
func (r Record) ArrivalAt() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(r.ArrivalTime))
	return t, err == nil
}

type Store interface {
	ByCrossing(ctx context.Context, crossingID string) ([]Entry, error)
	Insert(ctx context.Context, records []Record) error
}

// FetchError is returned by every store when a lookup fails.
func FetchError(crossingID string, err error) error {
	return fmt.Errorf("failed to fetch train schedule for crossing %s: %w", crossingID, err)
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missing
	}
	return s
}

func formatArrival(text string, at *time.Time, loc *time.Location) string {
	if at != nil && !at.IsZero() {
		return at.In(loc).Format(ArrivalLayout)
	}
	return orMissing(text)
}

type importFile struct {
	Schedules []Record `yaml:"schedules"`
}

// ParseImport decodes a YAML document of the form `schedules: [...]`.
func ParseImport(data []byte) ([]Record, error) {
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}
	for i, r := range f.Schedules {
		if strings.TrimSpace(r.CrossingID) == "" {
			return nil, fmt.Errorf("schedule %d: crossingId is required", i)
		}
	}
	return f.Schedules, nil
}

func ImportFile(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read schedule file: %w", err)
	}
	records, err := ParseImport(data)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to import schedules: %w", err)
	}
	return len(records), nil
}
