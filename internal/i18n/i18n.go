// Package i18n localizes CLI output with golang.org/x/text/message.
// Message keys are the English format strings; other languages register
// translations for them in the catalog below.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is used when no supported locale is configured.
var DefaultLang = language.English

// SupportedLangs have a catalog.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// CLI messages. Keep in sync with the German catalog.
const (
	MsgScanFound       = "Found %d devices on %s\n"
	MsgScanAssigned    = "Assigned %d devices to zone %q\n"
	MsgPolicySaved     = "Policy saved to %s\n"
	MsgConfigWritten   = "%s configuration written to %s (%d bytes)\n"
	MsgNoDiff          = "No changes against %s\n"
	MsgDefaultsApplied = "Generated %d rules, removed %d duplicates\n"
	MsgCheckClean      = "No problems found\n"
	MsgCheckSummary    = "%d errors, %d warnings\n"
	MsgConflicts       = "%d conflicting rule pairs\n"
	MsgScore           = "Isolation Score: %.1f%% (%d of %d pairs isolated)\n"
	MsgNoHistory       = "No validation runs recorded\n"
	MsgHistoryHeader   = "Recent validation runs:\n"
	MsgRunDetail       = "Run %s of %s at %s: %.1f%% over %d pairs\n"
)

var german = map[string]string{
	MsgScanFound:       "%d Geräte in %s gefunden\n",
	MsgScanAssigned:    "%d Geräte der Zone %q zugewiesen\n",
	MsgPolicySaved:     "Richtlinie gespeichert in %s\n",
	MsgConfigWritten:   "%s-Konfiguration geschrieben nach %s (%d Bytes)\n",
	MsgNoDiff:          "Keine Änderungen gegenüber %s\n",
	MsgDefaultsApplied: "%d Regeln erzeugt, %d Duplikate entfernt\n",
	MsgCheckClean:      "Keine Probleme gefunden\n",
	MsgCheckSummary:    "%d Fehler, %d Warnungen\n",
	MsgConflicts:       "%d widersprüchliche Regelpaare\n",
	MsgScore:           "Isolationswert: %.1f%% (%d von %d Paaren isoliert)\n",
	MsgNoHistory:       "Keine Validierungsläufe gespeichert\n",
	MsgHistoryHeader:   "Letzte Validierungsläufe:\n",
	MsgRunDetail:       "Lauf %s von %s am %s: %.1f%% über %d Paare\n",
}

func init() {
	for key, msg := range german {
		_ = message.SetString(language.German, key, msg)
	}
}

// MatchLanguage returns the best matching language for an Accept-Language
// style list.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a printer for tag.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the locale named by LC_ALL,
// LC_MESSAGES or LANG, in that order of precedence.
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LocaleTag(os.Getenv("LC_ALL"), os.Getenv("LC_MESSAGES"), os.Getenv("LANG")))
}

// LocaleTag picks the supported language for POSIX locale values such as
// "de_DE.UTF-8". The first non-empty value wins.
func LocaleTag(values ...string) language.Tag {
	var lang string
	for _, v := range values {
		if v != "" {
			lang = v
			break
		}
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		return MatchLanguage(lang)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}
