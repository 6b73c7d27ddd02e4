package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// StreamRequestSchema validates the body of the streaming endpoints.
const StreamRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string"},
    "thread_id": {"type": ["string", "null"], "maxLength": 256},
    "user_id": {"type": ["string", "null"], "maxLength": 256},
    "model": {"type": ["string", "null"]},
    "agent_config": {"type": ["object", "null"]},
    "category_config": {"type": ["object", "null"]},
    "workflow_json_data": {"type": ["object", "null"]},
    "schemas_analysis_config": {"type": ["object", "null"]},
    "data_cleaning_config": {"type": ["object", "null"]},
    "workflow_plan": {"type": ["string", "null"]},
    "stream_tokens": {"type": ["boolean", "null"]}
  }
}`

// HistoryRequestSchema validates the body of POST /history.
const HistoryRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["thread_id"],
  "properties": {
    "thread_id": {"type": "string", "minLength": 1},
    "agent_id": {"type": ["string", "null"]}
  }
}`

// RequestError is a client error in the request body. It maps to 422.
type RequestError struct {
	Detail string
}

func (e *RequestError) Error() string {
	return e.Detail
}

// BodyValidator checks request bodies against a JSON schema before decoding.
type BodyValidator struct {
	schema *gojsonschema.Schema
}

// NewBodyValidator compiles schema.
func NewBodyValidator(schema string) (*BodyValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &BodyValidator{schema: compiled}, nil
}

// Validate checks data and returns a RequestError listing every violation.
func (v *BodyValidator) Validate(data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &RequestError{Detail: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &RequestError{Detail: strings.Join(msgs, "; ")}
	}
	return nil
}

// Decode validates data and unmarshals it into dst.
func (v *BodyValidator) Decode(data []byte, dst any) error {
	if err := v.Validate(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &RequestError{Detail: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

// DecodeRequest reads the body of r and decodes it into dst.
func (v *BodyValidator) DecodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &RequestError{Detail: fmt.Sprintf("failed to read request body: %v", err)}
	}
	return v.Decode(data, dst)
}
