package rubric

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Definition is a rubric as written in a seed file.
type Definition struct {
	ID       string            `yaml:"id"`
	EventID  string            `yaml:"event_id"`
	TrackID  string            `yaml:"track_id"`
	Criteria []model.Criterion `yaml:"criteria"`
}

type fileDoc struct {
	Rubrics []Definition `yaml:"rubrics"`
}

// ParseYAML decodes and validates a rubric seed document.
func ParseYAML(data []byte) ([]Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("rubric: seed payload is empty")
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rubric: decode seed: %w", err)
	}
	for i := range doc.Rubrics {
		def := &doc.Rubrics[i]
		def.Criteria = Normalize(def.Criteria)
		if def.EventID == "" {
			return nil, fmt.Errorf("rubric: definition %d: %w", i, model.NewValidationError("event_id", "is required"))
		}
		if err := Validate(def.Criteria); err != nil {
			return nil, fmt.Errorf("rubric: definition %d (%s): %w", i, def.ID, err)
		}
	}
	return doc.Rubrics, nil
}

// LoadFile reads a rubric seed file from disk.
func LoadFile(path string) ([]Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rubric: read %s: %w", path, err)
	}
	defs, err := ParseYAML(content)
	if err != nil {
		return nil, fmt.Errorf("rubric: %s: %w", path, err)
	}
	return defs, nil
}
