package importer

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"examhall/internal/question"
)

// ParseManifest decodes a YAML exam definition. Unknown keys are rejected.
//
//	title: Fractions
//	duration_minutes: 30
//	questions:
//	  - text: 1/2 + 1/4 = ?
//	    options:
//	      - text: 3/4
//	        correct: true
//	      - text: 2/6
func ParseManifest(r io.Reader) (*question.ExamDraft, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d question.ExamDraft
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyWorkbook
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
