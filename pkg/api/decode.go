package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxBodyBytes bounds every JSON request body.
const MaxBodyBytes int64 = 64 << 10

// SchemaError reports a request body that failed decoding or validation.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var errBodyTooLarge = errors.New("request body too large")

// Schema is a compiled JSON Schema for one request type.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// MustCompileSchema compiles a Draft 2020-12 schema or panics. Schemas are
// package-level literals, so a failure is a programming error.
func MustCompileSchema(name, source string) *Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "mem://schemas/" + name + ".json"
	if err := c.AddResource(url, strings.NewReader(source)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return &Schema{name: name, schema: s}
}

// DecodeJSON reads at most MaxBodyBytes, validates the document against
// schema and decodes it into dst. It writes the error response itself and
// reports whether the handler may continue.
func DecodeJSON(w http.ResponseWriter, r *http.Request, schema *Schema, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteRequestTooLarge(w, MaxBodyBytes)
			return false
		}
		WriteBadRequest(w, "Unable to read request body")
		return false
	}
	if err := schema.Decode(data, dst); err != nil {
		WriteDomainError(w, r, err)
		return false
	}
	return true
}

// Decode validates data against the schema and unmarshals it into dst.
func (s *Schema) Decode(data []byte, dst any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &SchemaError{Message: "request body is required"}
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return &SchemaError{Message: "request body is not valid JSON"}
	}
	if err := s.schema.Validate(doc); err != nil {
		return schemaError(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &SchemaError{Message: "request body does not match " + s.name}
	}
	return nil
}

// schemaError reduces a validation error to its most specific cause.
func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &SchemaError{Message: err.Error()}
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")
	return &SchemaError{Field: field, Message: leaf.Message}
}
