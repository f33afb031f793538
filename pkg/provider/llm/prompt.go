package llm

import "strings"

// SystemPrompt is the compact waiter instruction. It keeps token count low
// and constrains the reply to the single JSON intent object the bridge
// parses.
const SystemPrompt = "Sen sesli garson asistanısın. Türkçe, kısa ve samimi konuş. " +
	"Yalnızca tek bir düz JSON nesnesiyle yanıt ver: " +
	`{"spoken_response": "<en fazla 10 kelime>", "intent": "add|info|greet|check|recommend|other", "product_name": "<ürün adı veya boş>", "quantity": <sayı>}`

// historyTail is how many completed turns are replayed as context.
const historyTail = 3

// BuildPrompt renders the user message for one generation. It is stateless:
// the menu block comes from req.MenuContext alone, so two sessions served by
// the same provider can never see each other's menu. The session driver owns
// the rendered menu and sends it with every request.
func BuildPrompt(req Request) string {
	var sb strings.Builder
	if req.MenuContext != "" {
		sb.WriteString("Menü:\n")
		sb.WriteString(req.MenuContext)
		sb.WriteString("\n\n")
	}

	history := req.History
	if len(history) > historyTail {
		history = history[len(history)-historyTail:]
	}
	for _, turn := range history {
		sb.WriteString("Müşteri: ")
		sb.WriteString(turn.User)
		sb.WriteString("\nGarson: ")
		sb.WriteString(turn.Assistant)
		sb.WriteString("\n")
	}
	if len(history) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString("Müşteri: ")
	sb.WriteString(req.Transcript)
	sb.WriteString("\n\nYanıt ver (JSON formatında):")
	return sb.String()
}
