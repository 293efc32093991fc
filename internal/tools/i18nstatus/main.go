// Package main reports how complete each error message catalog is against
// the base locale, including templates whose placeholders drifted.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/platform/errors/i18n"
)

type report struct {
	BaseLocale string     `json:"base_locale"`
	Locales    []coverage `json:"locales"`
}

type coverage struct {
	Locale     string   `json:"locale"`
	Codes      int      `json:"codes"`
	Translated int      `json:"translated"`
	Percent    float64  `json:"percent"`
	Missing    []string `json:"missing"`
	Orphaned   []string `json:"orphaned"`
	// Drifted codes are translated but render different metadata fields.
	Drifted []string `json:"drifted"`
}

func (c coverage) clean() bool {
	return len(c.Missing) == 0 && len(c.Orphaned) == 0 && len(c.Drifted) == 0
}

func main() {
	base := flag.String("base-locale", i18n.BaseLocale, "locale the others are measured against")
	mdPath := flag.String("out", "docs/reference/i18n-status.md", "markdown report path")
	jsonPath := flag.String("json-out", "docs/reference/i18n-status.json", "json report path")
	flag.Parse()

	catalogs := loadCatalogs()
	if _, ok := catalogs[*base]; !ok {
		config.Exitf("base locale %q has no catalog", *base)
	}
	rep := buildReport(catalogs, *base)

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		config.Exitf("encode report: %v", err)
	}
	if err := writeFile(*jsonPath, append(data, '\n')); err != nil {
		config.Exitf("%v", err)
	}
	if err := writeFile(*mdPath, []byte(renderMarkdown(rep))); err != nil {
		config.Exitf("%v", err)
	}
	fmt.Printf("wrote %s and %s\n", *mdPath, *jsonPath)
}

func loadCatalogs() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, locale := range i18n.Locales() {
		out[locale] = i18n.GetCatalog(locale).Messages()
	}
	return out
}

func buildReport(catalogs map[string]map[string]string, base string) report {
	baseMessages := catalogs[base]
	rep := report{BaseLocale: base}
	for _, locale := range sortedKeys(catalogs) {
		messages := catalogs[locale]
		c := coverage{
			Locale:   locale,
			Codes:    len(baseMessages),
			Missing:  difference(baseMessages, messages),
			Orphaned: difference(messages, baseMessages),
			Drifted:  []string{},
		}
		c.Translated = c.Codes - len(c.Missing)
		c.Percent = percent(c.Translated, c.Codes)
		for _, code := range sortedKeys(baseMessages) {
			translated, ok := messages[code]
			if ok && !slices.Equal(placeholders(baseMessages[code]), placeholders(translated)) {
				c.Drifted = append(c.Drifted, code)
			}
		}
		rep.Locales = append(rep.Locales, c)
	}
	return rep
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// placeholders returns the sorted, distinct metadata fields a template reads.
func placeholders(tmpl string) []string {
	var fields []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		fields = append(fields, match[1])
	}
	slices.Sort(fields)
	return slices.Compact(fields)
}

func renderMarkdown(rep report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Error Message Translations\n\nBase locale: `%s`.\n\n", rep.BaseLocale)
	b.WriteString("| Locale | Codes | Translated | Missing | Orphaned | Drifted | Coverage |\n")
	b.WriteString("| --- | ---: | ---: | ---: | ---: | ---: | ---: |\n")
	for _, c := range rep.Locales {
		fmt.Fprintf(&b, "| `%s` | %d | %d | %d | %d | %d | %.1f%% |\n",
			c.Locale, c.Codes, c.Translated, len(c.Missing), len(c.Orphaned), len(c.Drifted), c.Percent)
	}
	for _, c := range rep.Locales {
		if c.clean() {
			continue
		}
		fmt.Fprintf(&b, "\n## `%s`\n", c.Locale)
		listCodes(&b, "Missing", c.Missing)
		listCodes(&b, "Orphaned", c.Orphaned)
		listCodes(&b, "Placeholder drift", c.Drifted)
	}
	return b.String()
}

func listCodes(b *strings.Builder, title string, codes []string) {
	if len(codes) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, code := range codes {
		fmt.Fprintf(b, "- `%s`\n", code)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// difference returns the keys of a absent from b, sorted.
func difference(a, b map[string]string) []string {
	out := []string{}
	for _, key := range sortedKeys(a) {
		if _, ok := b[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 100
	}
	return float64(int(float64(part)*1000/float64(whole)+0.5)) / 10
}
