package models

// BehaviorReport is the session interaction summary produced by client
// instrumentation. The engine only consumes it; JSON names match the
// report the browser tracker emits.
type BehaviorReport struct {
	TypingIntervalMean   float64      `json:"velocidadeDigitacaoMed"`
	TypingIntervalStdDev float64      `json:"velocidadeDigitacaoDesvio"`
	MouseVelocityMean    float64      `json:"velocidadeMouseMed"`
	Clicks               ClickPattern `json:"padraoCliques"`
	ActionGapsMs         []float64    `json:"tempoEntreAcoes,omitempty"`
	EventSequence        []string     `json:"sequenciaEventos,omitempty"`
	TotalEvents          int          `json:"eventosTotais"`
	SessionSeconds       float64      `json:"tempoSessaoSegundos"`
	PagesVisited         int          `json:"paginasVisitadas"`
	MouseMoves           int          `json:"movimentosMouse"`
	Scrolls              int          `json:"scrollsRealizados"`
	ExcessiveRegularity  bool         `json:"regularidadeExcessiva"`
	TooFastActions       bool         `json:"acoesMuitoRapidas"`
	HumanPattern         *bool        `json:"padraoHumano,omitempty"`
	BotProbability       float64      `json:"scoreBotProbabilidade"`
	NormalityScore       float64      `json:"scoreNormalidade"`
}

// ClickPattern summarizes click timing within the session.
type ClickPattern struct {
	Total          int     `json:"total"`
	IntervalMean   float64 `json:"intervaloMedio"`
	IntervalStdDev float64 `json:"desvioIntervalo"`
}
