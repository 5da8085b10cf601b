package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = MustCompileSchema("test-submit", `{
	"type": "object",
	"required": ["description", "amount"],
	"properties": {
		"description": {"type": "string", "minLength": 1},
		"amount": {"type": "number", "exclusiveMinimum": 0}
	},
	"additionalProperties": false
}`)

type testBody struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

func TestSchemaDecode_Valid(t *testing.T) {
	var body testBody
	err := testSchema.Decode([]byte(`{"description":"Taxi","amount":45.5}`), &body)
	require.NoError(t, err)
	assert.Equal(t, testBody{Description: "Taxi", Amount: 45.5}, body)
}

func TestSchemaDecode_Errors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"empty", ``, ""},
		{"not json", `{"description":`, ""},
		{"wrong type", `{"description":"Taxi","amount":"45"}`, "amount"},
		{"non positive", `{"description":"Taxi","amount":0}`, "amount"},
		{"empty description", `{"description":"","amount":1}`, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body testBody
			err := testSchema.Decode([]byte(tc.body), &body)
			var serr *SchemaError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tc.field, serr.Field)
			assert.NotEmpty(t, serr.Message)
		})
	}
}

func TestDecodeJSON_WritesProblem(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/reports", strings.NewReader(`{"description":"Taxi","amount":-1}`))
	w := httptest.NewRecorder()

	var body testBody
	ok := DecodeJSON(w, req, testSchema, &body)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "validation", problem.Kind)
	assert.Equal(t, "amount", problem.Field)
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	big := `{"description":"` + strings.Repeat("x", int(MaxBodyBytes)) + `","amount":1}`
	req := httptest.NewRequest("POST", "/api/reports", strings.NewReader(big))
	w := httptest.NewRecorder()

	var body testBody
	assert.False(t, DecodeJSON(w, req, testSchema, &body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
