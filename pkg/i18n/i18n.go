package i18n

import "sync"

// Language type
type Language string

const (
	LangEN Language = "en"
	LangPT Language = "pt"
)

// Messages holds the operator-facing strings returned alongside machine-readable reasons.
type Messages struct {
	// Admission
	BlockedManualKillSwitch string
	BlockedDailyDrawdown    string
	BlockedSymbolDrawdown   string
	QueueUnavailable        string
	SignalAccepted          string

	// Validation
	InvalidRequest     string
	MissingField       string
	InvalidSide        string
	NonPositiveField   string
	InvalidTimestamp   string
	InvalidGlobalLimit string

	// Audit
	AuditFileNotFound string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	BlockedManualKillSwitch: "Blocked: manual kill switch is active",
	BlockedDailyDrawdown:    "Blocked: daily drawdown limit reached",
	BlockedSymbolDrawdown:   "Blocked: daily limit for symbol %s reached",
	QueueUnavailable:        "Signal queue unavailable",
	SignalAccepted:          "Signal accepted",

	InvalidRequest:     "invalid request payload",
	MissingField:       "missing required field: %s",
	InvalidSide:        `invalid side: use "long" or "short"`,
	NonPositiveField:   "%s must be > 0",
	InvalidTimestamp:   "%s must be an ISO-8601 timestamp",
	InvalidGlobalLimit: "provide {usd} > 0 or {pct} > 0 with {baseUsd} > 0",

	AuditFileNotFound: "audit file not found",
}

// Portuguese messages
var messagesPT = Messages{
	BlockedManualKillSwitch: "Bloqueado: kill switch manual ativo",
	BlockedDailyDrawdown:    "Bloqueado: limite de drawdown diário atingido",
	BlockedSymbolDrawdown:   "Bloqueado: limite diário do símbolo %s atingido",
	QueueUnavailable:        "Fila de sinais indisponível",
	SignalAccepted:          "Sinal aceito",

	InvalidRequest:     "payload inválido",
	MissingField:       "Campo obrigatório ausente: %s",
	InvalidSide:        `side inválido: use "long" ou "short"`,
	NonPositiveField:   "%s deve ser > 0",
	InvalidTimestamp:   "%s deve ser um timestamp ISO-8601",
	InvalidGlobalLimit: "Informe {usd} > 0 ou {pct} > 0 com {baseUsd} > 0",

	AuditFileNotFound: "arquivo de auditoria não encontrado",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangPT:
		messages = &messagesPT
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}
