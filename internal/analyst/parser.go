package analyst

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"automoney/internal/types"
)

const outputSchemaJSON = `{
  "type": "object",
  "required": ["signal", "confidence"],
  "properties": {
    "analyst_id": {"type": "string"},
    "kind": {"type": "string"},
    "signal": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "score": {"type": "number", "minimum": -100, "maximum": 100},
    "rationale": {"type": "string"},
    "metrics": {"type": "object", "additionalProperties": {"type": "number"}},
    "regime": {
      "type": "object",
      "required": ["score"],
      "properties": {
        "score": {"type": "number", "minimum": 0, "maximum": 100},
        "components": {"type": "object", "additionalProperties": {"type": "number"}}
      }
    },
    "momentum": {
      "type": "object",
      "required": ["has_opportunity"],
      "properties": {
        "has_opportunity": {"type": "boolean"},
        "asset": {"type": "string"},
        "direction": {"type": "string"},
        "entry_price": {"type": "number", "minimum": 0},
        "signal_strength": {"type": "number", "minimum": 0, "maximum": 1},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "stop_distance_atr": {"type": "number", "minimum": 0},
        "reward_risk": {"type": "number", "minimum": 0},
        "atr": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func outputSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("analyst_output.json", strings.NewReader(outputSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("analyst_output.json")
	})
	return schema, schemaErr
}

// ParseResponse turns a raw analyst response into an AnalystOutput. The JSON
// object may be wrapped in prose or a code fence, or nested under "output".
// Any deviation is a *ParseError; nothing is defaulted into a fake judgment.
func ParseResponse(analystID string, kind types.AnalystKind, raw []byte) (types.AnalystOutput, error) {
	fail := func(format string, args ...any) (types.AnalystOutput, error) {
		return types.AnalystOutput{}, &ParseError{AnalystID: analystID, Reason: fmt.Sprintf(format, args...), Raw: truncate(string(raw), 512)}
	}
	text, ok := extractJSONObject(string(raw))
	if !ok {
		return fail("no JSON object found")
	}
	if !gjson.Valid(text) {
		return fail("invalid JSON")
	}
	root := gjson.Parse(text)
	if inner := root.Get("output"); inner.Exists() && inner.IsObject() {
		root = inner
	}

	sch, err := outputSchema()
	if err != nil {
		return fail("schema unavailable: %v", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(root.Raw), &doc); err != nil {
		return fail("decode: %v", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fail("schema: %v", err)
	}

	sig, ok := types.ParseSignalClass(root.Get("signal").String())
	if !ok {
		return fail("unknown signal %q", root.Get("signal").String())
	}
	out := types.AnalystOutput{
		AnalystID:  analystID,
		Kind:       kind,
		Signal:     sig,
		Confidence: root.Get("confidence").Float(),
		Score:      root.Get("score").Float(),
		Rationale:  strings.TrimSpace(root.Get("rationale").String()),
		Metrics:    numberMap(root.Get("metrics")),
	}
	if id := strings.TrimSpace(root.Get("analyst_id").String()); id != "" {
		out.AnalystID = id
	}
	if k := root.Get("kind"); k.Exists() {
		parsed, ok := types.ParseAnalystKind(k.String())
		if !ok {
			return fail("unknown kind %q", k.String())
		}
		if kind != "" && parsed != kind {
			return fail("response kind %s does not match configured kind %s", parsed, kind)
		}
		out.Kind = parsed
	}
	if r := root.Get("regime"); r.Exists() {
		out.Regime = &types.RegimePayload{
			Score:      r.Get("score").Float(),
			Components: numberMap(r.Get("components")),
		}
	}
	if m := root.Get("momentum"); m.Exists() {
		payload := &types.MomentumPayload{
			HasOpportunity:  m.Get("has_opportunity").Bool(),
			Asset:           types.NormalizeAsset(m.Get("asset").String()),
			EntryPrice:      m.Get("entry_price").Float(),
			SignalStrength:  m.Get("signal_strength").Float(),
			Confidence:      m.Get("confidence").Float(),
			StopDistanceATR: m.Get("stop_distance_atr").Float(),
			RewardRisk:      m.Get("reward_risk").Float(),
			ATR:             m.Get("atr").Float(),
		}
		if d := strings.TrimSpace(m.Get("direction").String()); d != "" {
			dir, ok := types.ParseSignalClass(d)
			if !ok {
				return fail("unknown momentum direction %q", d)
			}
			payload.Direction = dir
		}
		out.Momentum = payload
	}
	if err := out.Validate(); err != nil {
		return fail("%v", err)
	}
	return out, nil
}

func numberMap(res gjson.Result) map[string]float64 {
	if !res.Exists() || !res.IsObject() {
		return nil
	}
	out := make(map[string]float64)
	res.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Float()
		return true
	})
	return out
}

// extractJSONObject returns the first balanced {...} block, skipping braces
// inside string literals.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
