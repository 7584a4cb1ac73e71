package remote

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema 只校验结构与类型；数值范围交给共识层统计为畸形信号。
const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "signal": {
      "type": "object",
      "required": ["action", "confidence"],
      "properties": {
        "symbol": {"type": "string"},
        "action": {"type": "string"},
        "confidence": {"type": "number"},
        "quantity_hint": {"type": ["number", "null"]},
        "reasoning": {"type": ["string", "null"]},
        "produced_at": {"type": ["string", "null"]}
      }
    },
    "signals": {"type": "array", "items": {"$ref": "#/definitions/signal"}}
  },
  "oneOf": [
    {"$ref": "#/definitions/signals"},
    {
      "type": "object",
      "required": ["signals"],
      "properties": {"signals": {"$ref": "#/definitions/signals"}}
    }
  ]
}`

func compileResponseSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signals.json", strings.NewReader(responseSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("signals.json")
}
