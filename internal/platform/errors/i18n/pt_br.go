package i18n

var ptBRMessages = map[Code]string{
	CodeUnknown:               "Ocorreu um erro inesperado.",
	CodeValidation:            "{{if .Field}}{{.Field}}: {{end}}{{if .Reason}}{{.Reason}}{{else}}a requisição é inválida{{end}}.",
	CodeNotFound:              "{{if .AggregateType}}{{.AggregateType}} {{end}}{{.AggregateID}} não foi encontrado.",
	CodeInvalidTransition:     "{{.AggregateType}} {{.AggregateID}} não permite {{.Command}} no status {{.Status}}.",
	CodeInsufficientAvailable: "{{.AggregateType}} {{.AggregateID}} tem {{.Available}} {{.Unit}} disponíveis; {{.Requested}} solicitados.",
	CodeTenantMismatch:        "O agregado solicitado pertence a outro tenant.",
	CodeConcurrencyConflict:   "{{.AggregateID}} foi alterado durante o comando. Tente novamente com o mesmo correlation id.",
	CodeStorage:               "O ledger está temporariamente indisponível. Tente novamente com o mesmo correlation id.",
}
