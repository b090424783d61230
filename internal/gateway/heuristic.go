package gateway

import "strings"

// simpleReplies are short conversational fillers that do not need an
// assistant answer.
var simpleReplies = map[string]struct{}{
	"si":      {},
	"sí":      {},
	"no":      {},
	"ok":      {},
	"vale":    {},
	"bien":    {},
	"gracias": {},
	"hola":    {},
	"adios":   {},
	"adiós":   {},
	"bye":     {},
	"👍":       {},
	"👋":       {},
	"🙂":       {},
}

var questionStarters = []string{
	"como", "cómo",
	"que", "qué",
	"cuando", "cuándo",
	"donde", "dónde",
	"por que", "por qué", "porque",
	"necesito", "quiero", "tengo",
}

var helpWords = []string{"ayuda", "problema", "consulta", "duda", "pregunta"}

// shouldAutoRespond decides whether a customer message in a live-support
// room merits an unprompted assistant reply. Err on the side of silence
// for fillers, err on the side of answering for anything that looks like
// a question or a request for help.
func shouldAutoRespond(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 {
		return false
	}
	lower := strings.ToLower(trimmed)
	if _, ok := simpleReplies[strings.Trim(lower, "!.¡ ")]; ok {
		return false
	}
	if strings.Contains(lower, "?") {
		return true
	}
	for _, starter := range questionStarters {
		if strings.HasPrefix(lower, starter+" ") {
			return true
		}
	}
	for _, word := range helpWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return len(trimmed) > 15
}
