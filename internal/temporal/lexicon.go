// Package temporal scans caller utterances in Spanish, English, and
// Portuguese for date expressions and injects the resolved calendar date
// after each one, so the LLM reasons over absolute dates instead of relative
// phrases.
package temporal

import "time"

// minMatchLength filters out short false positives like "mi" or "ma" unless
// the match is a known date word.
const minMatchLength = 4

// validShortWords are date words allowed below the minimum match length.
var validShortWords = map[string]map[string]bool{
	"es": setOf(
		"hoy", "ayer", "mañana",
		"lunes", "martes", "jueves", "viernes",
		"mes", "año", "hora", "ahora", "luego",
	),
	"en": setOf(
		"today", "now", "soon", "week", "month", "year", "hour",
	),
	"pt": setOf(
		"hoje", "ontem", "amanhã", "já",
		"mês", "ano", "hora", "agora", "logo",
	),
}

// Direct modifiers checked immediately around a date match. A hit here is
// the strongest direction signal and wins over verb tense.
var pastModifiersAfter = map[string][]string{
	"es": {"pasado", "pasada", "pasados", "pasadas", "anterior", "anteriores", "atrás"},
	"en": {"ago", "back", "earlier", "before", "prior"},
	"pt": {"passado", "passada", "passados", "passadas", "anterior", "anteriores", "atrás", "retrasado", "retrasada"},
}

var pastModifiersBefore = map[string][]string{
	"es": {
		"el pasado", "la pasada", "los pasados", "las pasadas",
		"el último", "la última", "los últimos", "las últimas",
		"el anterior", "la anterior", "el otro", "la otra",
		"hace", "ya",
	},
	"en": {
		"last", "past", "previous", "prior",
		"the other", "the previous", "the past",
	},
	"pt": {
		"o passado", "a passada", "os passados", "as passadas",
		"o último", "a última", "os últimos", "as últimas",
		"o anterior", "a anterior", "o outro", "a outra",
		"há", "faz", "já",
	},
}

var futureModifiersAfter = map[string][]string{
	"es": {"que viene", "que entra", "que sigue", "próximo", "próxima", "próximos", "próximas", "siguiente", "siguientes", "entrante"},
	"en": {"next", "coming", "upcoming", "following", "from now", "later", "ahead"},
	"pt": {"que vem", "que entra", "próximo", "próxima", "próximos", "próximas", "seguinte", "seguintes"},
}

var futureModifiersBefore = map[string][]string{
	"es": {
		"el próximo", "la próxima", "los próximos", "las próximas",
		"el siguiente", "la siguiente", "este", "esta",
		"dentro de", "para", "el que viene", "la que viene",
	},
	"en": {
		"next", "this", "the next", "the coming", "the upcoming", "the following",
		"in", "in a", "in an", "in the",
		"within", "within a", "by", "by the", "by next",
		"for", "for the", "for next",
	},
	"pt": {
		"o próximo", "a próxima", "os próximos", "as próximas",
		"o seguinte", "a seguinte", "este", "esta", "esse", "essa",
		"neste", "nesta", "dentro de", "daqui a",
		"para", "até", "o que vem", "a que vem", "na próxima", "no próximo",
	},
}

// Tensed verbs checked in the wider sentence window when no direct modifier
// decides the direction. Multi-word entries are matched as substrings,
// single words against the tokenized window.
var pastTenseVerbs = map[string][]string{
	"es": {
		"fui", "fue", "fueron", "fuimos",
		"estuve", "estuvo", "estuvieron",
		"hice", "hizo", "hicieron",
		"tuve", "tuvo", "tuvieron",
		"dije", "dijo", "dijeron",
		"vine", "vino", "vinieron",
		"di", "dio", "dieron", "vi", "vio", "vieron",
		"pagué", "pagó", "pagaron",
		"llamé", "llamó", "llamaron",
		"hablé", "habló", "hablaron",
		"compré", "compró", "compraron",
		"llegué", "llegó", "llegaron",
		"pasé", "pasó", "pasaron",
		"terminé", "terminó", "terminaron",
		"envié", "envió", "enviaron",
		"salí", "salió", "salieron",
		"recibí", "recibió", "recibieron",
		"pedí", "pidió", "pidieron",
		"comí", "comió", "comieron",
		"era", "iba", "estaba", "había", "tenía", "podía", "quería", "hacía",
		"he ido", "ha ido", "han ido",
		"he estado", "ha estado", "han estado",
		"he hecho", "ha hecho", "han hecho",
		"he pagado", "ha pagado", "han pagado",
		"he llamado", "ha llamado", "han llamado",
		"había ido", "había estado", "había hecho", "había pagado",
	},
	"en": {
		"went", "was", "were", "did", "had", "got", "came", "made",
		"said", "told", "gave", "took", "saw", "knew", "thought",
		"found", "left", "paid", "met", "ran", "sent", "spent",
		"bought", "caught", "taught", "brought",
		"called", "talked", "worked", "wanted", "needed",
		"started", "finished", "happened", "arrived",
		"passed", "asked", "helped", "stopped", "tried",
		"scheduled", "attended", "completed", "submitted",
		"was going", "were going", "was working", "were working",
		"have been", "has been", "have gone", "has gone",
		"have paid", "has paid", "have called", "has called",
		"had been", "had gone", "had paid",
		"already", "recently", "earlier",
	},
	"pt": {
		"fui", "foi", "foram", "fomos",
		"estive", "esteve", "estiveram",
		"fiz", "fez", "fizeram",
		"tive", "teve", "tiveram",
		"disse", "disseram",
		"vim", "veio", "vieram",
		"dei", "deu", "deram", "vi", "viu", "viram",
		"paguei", "pagou", "pagaram",
		"liguei", "ligou", "ligaram",
		"falei", "falou", "falaram",
		"comprei", "comprou", "compraram",
		"cheguei", "chegou", "chegaram",
		"passei", "passou", "passaram",
		"terminei", "terminou", "terminaram",
		"enviei", "enviou", "enviaram",
		"voltei", "voltou", "voltaram",
		"recebi", "recebeu", "receberam",
		"comi", "comeu", "comeram",
		"era", "ia", "estava", "tinha", "havia", "podia", "queria", "fazia",
		"tenho ido", "tem ido", "tenho estado", "tem estado",
		"tenho pago", "tem pago", "tenho ligado", "tem ligado",
		"tinha ido", "tinha estado", "tinha pago", "havia ido",
	},
}

var futureTenseVerbs = map[string][]string{
	"es": {
		"voy", "vas", "va", "vamos", "van",
		"tengo", "tienes", "tiene", "tenemos", "tienen",
		"puedo", "puedes", "puede", "podemos", "pueden",
		"quiero", "quieres", "quiere", "queremos", "quieren",
		"necesito", "necesita", "necesitamos",
		"debo", "debe", "debemos",
		"espero", "espera", "esperamos",
		"pienso", "planeo", "pago", "llamo", "hago",
		"vengo", "salgo", "llego", "empiezo", "termino",
		"iré", "irá", "iremos", "irán",
		"seré", "será", "seremos",
		"estaré", "estará", "estaremos",
		"tendré", "tendrá", "tendremos",
		"haré", "hará", "haremos",
		"podré", "podrá", "podremos",
		"pagaré", "pagará", "pagaremos",
		"llamaré", "llamará", "llamaremos",
		"llegaré", "llegará",
		"voy a", "vas a", "va a", "vamos a", "van a",
		"iría", "sería", "estaría", "tendría", "haría", "podría",
		"me gustaría", "quisiera",
	},
	"en": {
		"will", "will be", "will go", "will do", "will make",
		"will have", "will get", "will come", "will take",
		"will pay", "will call", "will start", "will finish",
		"will arrive", "will meet", "will visit", "will attend",
		"going to", "am going to", "is going to", "are going to",
		"gonna", "am going", "is going", "are going",
		"am coming", "is coming", "are coming",
		"am meeting", "is meeting", "are meeting",
		"shall", "should", "would", "could", "might", "may",
		"can", "must", "need to", "have to", "has to",
		"plan to", "plans to", "planning to",
		"intend to", "expect to", "hope to",
		"want to", "wants to", "about to", "scheduled to",
		"tomorrow", "soon", "later", "next",
	},
	"pt": {
		"vou", "vais", "vai", "vamos", "vão",
		"tenho", "tens", "tem", "temos", "têm",
		"posso", "podes", "pode", "podemos", "podem",
		"quero", "queres", "quer", "queremos", "querem",
		"preciso", "precisa", "precisamos",
		"devo", "deve", "devemos",
		"espero", "espera", "esperamos",
		"penso", "planejo", "pago", "ligo", "chamo", "faço",
		"venho", "saio", "chego", "começo", "termino",
		"irei", "irá", "iremos", "irão",
		"serei", "será", "seremos",
		"estarei", "estará", "estaremos",
		"terei", "terá", "teremos",
		"farei", "fará", "faremos",
		"pagarei", "pagará", "pagaremos",
		"ligarei", "ligará", "ligaremos",
		"vou pagar", "vai pagar", "vou ligar", "vai ligar",
		"iria", "seria", "estaria", "teria", "faria", "poderia",
		"gostaria", "queria",
		"amanhã", "logo", "em breve",
	},
}

// weekdays maps each language's weekday names to time.Weekday.
var weekdays = map[string]map[string]time.Weekday{
	"es": {
		"lunes": time.Monday, "martes": time.Tuesday, "miércoles": time.Wednesday,
		"jueves": time.Thursday, "viernes": time.Friday,
		"sábado": time.Saturday, "domingo": time.Sunday,
	},
	"en": {
		"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday,
		"saturday": time.Saturday, "sunday": time.Sunday,
	},
	"pt": {
		"segunda": time.Monday, "segunda-feira": time.Monday,
		"terça": time.Tuesday, "terça-feira": time.Tuesday,
		"quarta": time.Wednesday, "quarta-feira": time.Wednesday,
		"quinta": time.Thursday, "quinta-feira": time.Thursday,
		"sexta": time.Friday, "sexta-feira": time.Friday,
		"sábado": time.Saturday, "domingo": time.Sunday,
	},
}

// dayWords maps absolute day expressions to their offset from today.
var dayWords = map[string]map[string]int{
	"es": {
		"hoy": 0, "mañana": 1, "pasado mañana": 2,
		"ayer": -1, "anteayer": -2,
	},
	"en": {
		"today": 0, "tomorrow": 1, "yesterday": -1,
	},
	"pt": {
		"hoje": 0, "amanhã": 1, "depois de amanhã": 2,
		"ontem": -1, "anteontem": -2,
	},
}

// relativeUnits maps duration nouns to the calendar unit they advance.
type calendarUnit int

const (
	unitDay calendarUnit = iota
	unitWeek
	unitMonth
	unitYear
)

var relativeUnits = map[string]map[string]calendarUnit{
	"es": {
		"día": unitDay, "días": unitDay,
		"semana": unitWeek, "semanas": unitWeek,
		"mes": unitMonth, "meses": unitMonth,
		"año": unitYear, "años": unitYear,
	},
	"en": {
		"day": unitDay, "days": unitDay,
		"week": unitWeek, "weeks": unitWeek,
		"month": unitMonth, "months": unitMonth,
		"year": unitYear, "years": unitYear,
	},
	"pt": {
		"dia": unitDay, "dias": unitDay,
		"semana": unitWeek, "semanas": unitWeek,
		"mês": unitMonth, "meses": unitMonth,
		"ano": unitYear, "anos": unitYear,
	},
}

// numberWords maps spelled-out small counts to their value.
var numberWords = map[string]map[string]int{
	"es": {
		"un": 1, "una": 1, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4,
		"cinco": 5, "seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
	},
	"en": {
		"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4,
		"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	},
	"pt": {
		"um": 1, "uma": 1, "dois": 2, "duas": 2, "três": 3, "quatro": 4,
		"cinco": 5, "seis": 6, "sete": 7, "oito": 8, "nove": 9, "dez": 10,
	},
}

// months maps month names to their number.
var months = map[string]map[string]time.Month{
	"es": {
		"enero": time.January, "febrero": time.February, "marzo": time.March,
		"abril": time.April, "mayo": time.May, "junio": time.June,
		"julio": time.July, "agosto": time.August, "septiembre": time.September,
		"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
	},
	"en": {
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	},
	"pt": {
		"janeiro": time.January, "fevereiro": time.February, "março": time.March,
		"abril": time.April, "maio": time.May, "junho": time.June,
		"julho": time.July, "agosto": time.August, "setembro": time.September,
		"outubro": time.October, "novembro": time.November, "dezembro": time.December,
	},
}

func setOf(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
