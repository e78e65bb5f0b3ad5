package inbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submissionSchema describes the body accepted by POST /api/submit.
const submissionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text", "fileExtension"],
  "properties": {
    "text": {"type": "string"},
    "fileExtension": {"type": "string", "pattern": "^\\.?[A-Za-z0-9_-]{1,16}$"}
  }
}`

var compiledSchema = mustCompile(submissionSchema)

func mustCompile(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("submission.json", strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("inbox: load schema: %v", err))
	}
	schema, err := compiler.Compile("submission.json")
	if err != nil {
		panic(fmt.Sprintf("inbox: compile schema: %v", err))
	}
	return schema
}

// Submission is a payload sent by a scanner.
type Submission struct {
	Text          string `json:"text"`
	FileExtension string `json:"fileExtension"`
}

// Ext returns the extension without its leading dot.
func (s Submission) Ext() string {
	return strings.TrimPrefix(s.FileExtension, ".")
}

// Validate checks s against the submission schema.
func (s Submission) Validate() error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	_, err = DecodeSubmission(raw)
	return err
}

// DecodeSubmission validates a raw request body and decodes it.
func DecodeSubmission(body []byte) (Submission, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Submission{}, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidSubmission, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	var s Submission
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&s); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	return s, nil
}
