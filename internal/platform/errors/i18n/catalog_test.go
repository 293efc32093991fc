package i18n

import (
	"strings"
	"testing"
)

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	fallback := GetCatalog("missing-locale")
	if fallback != base {
		t.Fatal("expected fallback to en-US catalog")
	}
}

func TestGetCatalogMatchesAcceptLanguage(t *testing.T) {
	cat := GetCatalog("pt-PT;q=0.9, fr;q=0.5")
	if cat.Locale() != "pt-BR" {
		t.Fatalf("locale = %s, want pt-BR", cat.Locale())
	}
	if got := GetCatalog("en-GB").Locale(); got != "en-US" {
		t.Fatalf("locale = %s, want en-US", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestFormatInsufficientAvailableLocalizesQuantities(t *testing.T) {
	meta := map[string]string{
		"AggregateType": "pallet",
		"AggregateID":   "P",
		"Available":     "1234.5",
		"Requested":     "2000",
		"Unit":          "units",
	}
	en := GetCatalog("en-US").Format(CodeInsufficientAvailable, meta)
	if want := "pallet P has 1,234.5 units available; 2,000 requested."; en != want {
		t.Fatalf("en = %q, want %q", en, want)
	}
	pt := GetCatalog("pt-BR").Format(CodeInsufficientAvailable, meta)
	if want := "pallet P tem 1.234,5 units disponíveis; 2.000 solicitados."; pt != want {
		t.Fatalf("pt = %q, want %q", pt, want)
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}

func TestLocalesAndMessages(t *testing.T) {
	locales := strings.Join(Locales(), ",")
	if !strings.Contains(locales, BaseLocale) || !strings.Contains(locales, "pt-BR") {
		t.Fatalf("Locales() = %v", locales)
	}
	base := GetCatalog(BaseLocale).Messages()
	pt := GetCatalog("pt-BR").Messages()
	for code := range base {
		if _, ok := pt[code]; !ok {
			t.Errorf("pt-BR is missing %s", code)
		}
	}
	base[CodeUnknown] = "changed"
	if GetCatalog(BaseLocale).Messages()[CodeUnknown] == "changed" {
		t.Fatal("Messages() must return a copy")
	}
}
