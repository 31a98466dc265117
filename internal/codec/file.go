package codec

import (
	"fmt"
	"os"

	"github.com/AaronLay10/DialogStudio/internal/scenario"
)

// ReadFile loads a scenario export from disk.
func ReadFile(path string) (*scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	return s, nil
}

// WriteFile exports s to path.
func WriteFile(path string, s *scenario.Scenario) error {
	data, err := Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode scenario: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write scenario file: %w", err)
	}
	return nil
}
