package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
)

// document is the YAML form of a Definition.
type document struct {
	Name    string  `yaml:"name"`
	StartAt string  `yaml:"start_at"`
	States  []State `yaml:"states"`
}

// ParseDefinition decodes and validates a YAML definition:
//
//	name: image-signer
//	start_at: invoke-pull
//	states:
//	  - name: invoke-pull
//	    type: task
//	    task: pull
//	    next: scan-wait
//	    retry:
//	      retryable: [service-unavailable, throttled]
//	      max_attempts: 3
//	      base_interval: 1s
//	      multiplier: 2
//	  - name: scan-wait
//	    type: wait
//	    wait: 12m
//	    next: invoke-sign
//	  ...
func ParseDefinition(data []byte) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ingestion.ErrInvalidDefinition, err)
	}
	return NewDefinition(doc.Name, doc.StartAt, doc.States...)
}

// MarshalYAML implements yaml.Marshaler.
func (d *Definition) MarshalYAML() (any, error) {
	return document{Name: d.name, StartAt: d.startAt, States: d.States()}, nil
}
