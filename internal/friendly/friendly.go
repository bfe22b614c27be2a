// Package friendly turns backend errors into short pt-BR messages that can
// be shown to the user.
package friendly

import "strings"

// User-facing messages.
const (
	QuotaMessage      = "Você excedeu sua cota de uso da API. Por favor, verifique seu plano e faturamento. Para mais detalhes, acesse: ai.google.dev/gemini-api/docs/billing"
	InvalidKeyMessage = "Sua chave de API não foi encontrada ou é inválida. Por favor, selecione uma chave de API válida para continuar."
	BadRequestMessage = "Ocorreu um erro de requisição inválida. Por favor, verifique os dados e tente novamente."
	DefaultMessage    = "Ocorreu um erro inesperado. Por favor, tente novamente."
)

// Message returns the user-facing message for err. Errors that match no
// known category yield def, or [DefaultMessage] when def is empty.
func Message(err error, def string) string {
	if def == "" {
		def = DefaultMessage
	}
	if err == nil {
		return def
	}
	return categorize(err.Error(), def)
}

func categorize(s, def string) string {
	switch {
	case strings.Contains(s, "RESOURCE_EXHAUSTED"), strings.Contains(s, "429"):
		return QuotaMessage
	case strings.Contains(s, "API key not found"),
		strings.Contains(s, "permission denied"),
		strings.Contains(s, "PERMISSION_DENIED"),
		strings.Contains(s, "Requested entity was not found"):
		return InvalidKeyMessage
	case strings.Contains(s, "400") &&
		(strings.Contains(s, "Invalid") || strings.Contains(s, "request is invalid")):
		return BadRequestMessage
	default:
		return def
	}
}
