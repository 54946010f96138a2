package assist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const headerSchema = `{
  "type": "object",
  "properties": {
    "supplier": {"type": ["string", "null"]},
    "invoice_number": {"type": ["string", "null"]},
    "invoice_date": {"type": ["string", "null"]},
    "po_number": {"type": ["string", "null"]},
    "subtotal": {"type": ["number", "null"]},
    "total": {"type": ["number", "null"]}
  }
}`

var compiledHeaderSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("header.json", strings.NewReader(headerSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("header.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// parseHeaderJSON pulls the JSON object out of a model reply, checks it
// against the header schema and decodes it.
func parseHeaderJSON(text string) (*HeaderHints, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	raw := []byte(text[startIdx : endIdx+1])

	schema, err := compiledHeaderSchema()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}

	var hints HeaderHints
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&hints); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}

	hints.Supplier = strings.TrimSpace(hints.Supplier)
	hints.InvoiceNumber = strings.TrimSpace(hints.InvoiceNumber)
	hints.PONumber = strings.TrimSpace(hints.PONumber)
	hints.InvoiceDate = normalizeDate(hints.InvoiceDate)
	return &hints, nil
}

// normalizeDate returns d as YYYY-MM-DD, or "" when it is not a date.
func normalizeDate(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	for _, format := range []string{"2006-01-02", "2006/01/02", "01/02/2006", "January 2, 2006"} {
		if t, err := time.Parse(format, d); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
