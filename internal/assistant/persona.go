package assistant

import "fmt"

// Persona bundles a system prompt with the apology returned when the LLM
// call fails under it. The apology wording matters: in a support room it
// must point at a human follow-up, elsewhere it suggests a retry.
type Persona struct {
	Name    string
	System  string
	Apology string
}

// General is the default assistant persona for regular channels.
var General = Persona{
	Name:    "general",
	System:  "Eres un asistente virtual amable, conciso y preciso.",
	Apology: "Lo siento, ocurrió un error procesando tu consulta. Intenta de nuevo en un momento.",
}

// Support is the customer-support persona used in live-support rooms.
var Support = Persona{
	Name: "support",
	System: "Eres un asistente virtual de atención al cliente amable y profesional, " +
		"ayudando en un chat de soporte en vivo. " +
		"Responde de manera concisa pero completa, con un tono empático. " +
		"Nunca inventes información técnica que no sepas. " +
		"Si la consulta es muy técnica o detectas urgencia, sugiere hablar con un especialista humano. " +
		"Responde en español a menos que el cliente escriba claramente en otro idioma.",
	Apology: "Disculpa, tuve un problema técnico procesando tu consulta. Un especialista te ayudará en breve.",
}

// Grounded builds a persona that answers only from the supplied document
// context, stating explicitly when the context lacks an answer.
func Grounded(context string) Persona {
	return Persona{
		Name: "grounded",
		System: fmt.Sprintf(
			"Eres un asistente virtual que responde usando únicamente este contexto:\n\n%s\n\n"+
				"Responde de forma concisa. Si el contexto no contiene la respuesta, dilo explícitamente.",
			context),
		Apology: General.Apology,
	}
}

// NoticeRateLimited is returned instead of an answer when a user exceeds
// the per-user call budget.
const NoticeRateLimited = "Estás enviando muchas consultas seguidas. Espera un momento, por favor."

// NoticeNoContext is returned by the grounded path when no document chunk
// matches the query.
const NoticeNoContext = "No encontré información relevante en los documentos cargados."

// processingNotices are sent while a reply is being generated, to improve
// perceived latency. One is picked pseudo-randomly per request.
var processingNotices = []string{
	"Un momento, estoy procesando tu consulta...",
	"Déjame revisar eso para ti...",
	"Procesando tu solicitud, dame unos segundos...",
	"Buscando la mejor respuesta para ti...",
}
