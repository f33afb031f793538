// Package intent parses the structured waiter reply out of raw model output.
//
// The model is instructed to answer with a single flat JSON object, but real
// output arrives fenced, prefixed with prose, or cut off mid-stream. Parsing
// is therefore permissive: strip fences, slice the outermost braces, and fall
// back to treating the whole reply as spoken text.
package intent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind classifies what the customer asked for.
type Kind int

const (
	// KindOther covers chatter that maps to no menu action.
	KindOther Kind = iota
	// KindAdd adds a product to the table's order.
	KindAdd
	// KindInfo answers a question about the menu.
	KindInfo
	// KindGreet is a greeting exchange.
	KindGreet
	// KindCheck requests the check.
	KindCheck
	// KindRecommend asks for a suggestion.
	KindRecommend
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindInfo:
		return "info"
	case KindGreet:
		return "greet"
	case KindCheck:
		return "check"
	case KindRecommend:
		return "recommend"
	default:
		return "other"
	}
}

// ParseKind maps a model-emitted intent label to a Kind. Unknown labels
// collapse to KindOther.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return KindAdd
	case "info":
		return KindInfo
	case "greet":
		return KindGreet
	case "check":
		return KindCheck
	case "recommend":
		return KindRecommend
	default:
		return KindOther
	}
}

// FallbackSpoken is spoken when the model returns nothing usable.
const FallbackSpoken = "Üzgünüm, anlayamadım. Tekrar söyler misiniz?"

// Reply is the structured waiter turn.
type Reply struct {
	Spoken      string
	Kind        Kind
	ProductName string
	Quantity    int
}

// wire mirrors the JSON object the model is instructed to emit.
type wire struct {
	SpokenResponse string `json:"spoken_response"`
	Intent         string `json:"intent"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
}

// Parse extracts a Reply from the full model output.
//
// Markdown fences are stripped, then the slice between the first '{' and the
// last '}' is decoded. Output with no JSON object becomes an info reply whose
// spoken text is the raw output; empty output becomes the fallback apology.
func Parse(full string) Reply {
	clean := strings.TrimSpace(full)
	if clean == "" {
		return Reply{Spoken: FallbackSpoken, Kind: KindOther, Quantity: 1}
	}

	if strings.HasPrefix(clean, "```") {
		if nl := strings.IndexByte(clean, '\n'); nl >= 0 {
			clean = clean[nl+1:]
		}
		clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
		clean = strings.TrimSpace(clean)
	}

	start := strings.IndexByte(clean, '{')
	end := strings.LastIndexByte(clean, '}')
	if start >= 0 && end > start {
		var w wire
		if err := json.Unmarshal([]byte(clean[start:end+1]), &w); err == nil {
			qty := w.Quantity
			if qty <= 0 {
				qty = 1
			}
			return Reply{
				Spoken:      w.SpokenResponse,
				Kind:        ParseKind(w.Intent),
				ProductName: strings.TrimSpace(w.ProductName),
				Quantity:    qty,
			}
		}
	}

	// No decodable object: the whole reply is the spoken text.
	return Reply{Spoken: full, Kind: KindInfo, Quantity: 1}
}

var spokenRe = regexp.MustCompile(`"spoken_response"\s*:\s*"([^"]*)"`)

// ExtractSpoken pulls the spoken_response value out of a possibly incomplete
// JSON stream. Works mid-generation, before the closing brace exists.
func ExtractSpoken(partial string) (string, bool) {
	m := spokenRe.FindStringSubmatch(partial)
	if m == nil {
		return "", false
	}
	return m[1], true
}
