package i18n

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// quantityKeys are metadata keys rendered with locale number formatting.
var quantityKeys = map[string]struct{}{
	"Quantity":  {},
	"Available": {},
	"Requested": {},
	"Held":      {},
}

// localizeQuantities returns a copy of metadata with numeric quantity values
// formatted for the locale (e.g. 1,234.5 vs 1.234,5).
func localizeQuantities(tag language.Tag, metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	printer := message.NewPrinter(tag)
	for key, value := range metadata {
		out[key] = value
		if _, ok := quantityKeys[key]; !ok {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		scale := 0
		if dot := strings.IndexByte(value, '.'); dot >= 0 {
			scale = len(value) - dot - 1
		}
		out[key] = printer.Sprint(number.Decimal(parsed, number.Scale(scale)))
	}
	return out
}
