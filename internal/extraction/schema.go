package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "raw_result.json"

// RawResult is the remote API payload after it passed schema validation.
type RawResult struct {
	DocumentType string        `json:"document_type"`
	Total        RawAmount     `json:"total"`
	Currency     string        `json:"currency,omitempty"`
	Description  string        `json:"description,omitempty"`
	Merchant     string        `json:"merchant,omitempty"`
	Date         string        `json:"date,omitempty"`
	Category     string        `json:"category,omitempty"`
	Card         string        `json:"card,omitempty"`
	DueDate      string        `json:"due_date,omitempty"`
	ClosingDate  string        `json:"closing_date,omitempty"`
	Divisions    []RawDivision `json:"divisions,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
}

type RawDivision struct {
	Person string    `json:"person"`
	Amount RawAmount `json:"amount"`
}

// RawAmount keeps an amount exactly as the remote sent it, either as a
// JSON string or a JSON number.
type RawAmount struct {
	Value    string
	IsNumber bool
}

func (a *RawAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		a.IsNumber = false
		return json.Unmarshal(b, &a.Value)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	a.Value, a.IsNumber = n.String(), true
	return nil
}

func (a RawAmount) MarshalJSON() ([]byte, error) {
	if a.IsNumber {
		return []byte(a.Value), nil
	}
	return json.Marshal(a.Value)
}

func rawResultSchema() map[string]any {
	amount := map[string]any{"type": []string{"string", "number"}, "minLength": 1}
	optionalText := map[string]any{"type": []string{"string", "null"}}
	requiredText := map[string]any{"type": "string", "minLength": 1}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"required": []string{
			"document_type",
			"total",
		},
		"properties": map[string]any{
			"document_type": map[string]any{"type": "string", "enum": []string{"expense", "card_bill"}},
			"total":         amount,
			"currency":      map[string]any{"type": []string{"string", "null"}, "pattern": "^[A-Za-z]{3}$"},
			"description":   optionalText,
			"merchant":      optionalText,
			"date":          optionalText,
			"category":      optionalText,
			"card":          optionalText,
			"due_date":      optionalText,
			"closing_date":  optionalText,
			"divisions": map[string]any{
				"type": []string{"array", "null"},
				"items": map[string]any{
					"type":     "object",
					"required": []string{"person", "amount"},
					"properties": map[string]any{
						"person": requiredText,
						"amount": amount,
					},
				},
			},
			"confidence": map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
		},
		"allOf": []any{
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"document_type": map[string]any{"const": "expense"}}},
				"then": map[string]any{"required": []string{"date"}, "properties": map[string]any{"date": requiredText}},
			},
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"document_type": map[string]any{"const": "card_bill"}}},
				"then": map[string]any{"required": []string{"due_date"}, "properties": map[string]any{"due_date": requiredText}},
			},
		},
	}
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(rawResultSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// ValidateResponse checks body against the RawResult schema and decodes
// it. Nothing is read from the body unless validation passes. Failures are
// returned as *ResponseFormatError.
func ValidateResponse(body []byte) (RawResult, error) {
	schema, err := compiledSchema()
	if err != nil {
		return RawResult{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return RawResult{}, &ResponseFormatError{Err: fmt.Errorf("decode body: %w", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return RawResult{}, &ResponseFormatError{Err: errors.New("unexpected data after JSON document")}
	}
	if err := schema.Validate(doc); err != nil {
		return RawResult{}, &ResponseFormatError{Err: fmt.Errorf("json does not match schema: %w", err)}
	}

	var raw RawResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return RawResult{}, &ResponseFormatError{Err: fmt.Errorf("decode result: %w", err)}
	}
	return raw, nil
}
