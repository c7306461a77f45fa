package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed jobrecord.schema.yaml
var jobRecordSchema []byte

const jobRecordURL = "jobrecord.schema.json"

// Validator checks job records before they are handed to a worker.
type Validator struct {
	jobRecord *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	sch, err := compile(jobRecordURL, jobRecordSchema)
	if err != nil {
		return nil, fmt.Errorf("job record schema: %w", err)
	}
	return &Validator{jobRecord: sch}, nil
}

// ValidateJobRecord validates any value that marshals to a job record.
func (v *Validator) ValidateJobRecord(rec interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := v.jobRecord.Validate(doc); err != nil {
		return fmt.Errorf("job record: %w", err)
	}
	return nil
}

// compile loads a YAML schema document.
func compile(url string, src []byte) (*jsonschema.Schema, error) {
	var doc interface{}
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(url, bytes.NewReader(js)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
