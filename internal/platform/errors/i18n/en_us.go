package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown               = "UNKNOWN"
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeInsufficientAvailable = "INSUFFICIENT_AVAILABLE"
	CodeTenantMismatch        = "TENANT_MISMATCH"
	CodeConcurrencyConflict   = "CONCURRENCY_CONFLICT"
	CodeStorage               = "STORAGE_ERROR"
)

var enUSMessages = map[Code]string{
	CodeUnknown:               "An unexpected error occurred.",
	CodeValidation:            "{{if .Field}}{{.Field}}: {{end}}{{if .Reason}}{{.Reason}}{{else}}the request is invalid{{end}}.",
	CodeNotFound:              "{{if .AggregateType}}{{.AggregateType}} {{end}}{{.AggregateID}} was not found.",
	CodeInvalidTransition:     "{{.AggregateType}} {{.AggregateID}} cannot {{.Command}} while {{.Status}}.",
	CodeInsufficientAvailable: "{{.AggregateType}} {{.AggregateID}} has {{.Available}} {{.Unit}} available; {{.Requested}} requested.",
	CodeTenantMismatch:        "The requested aggregate belongs to another tenant.",
	CodeConcurrencyConflict:   "{{.AggregateID}} changed while the command was running. Retry with the same correlation id.",
	CodeStorage:               "The ledger is temporarily unavailable. Retry with the same correlation id.",
}
