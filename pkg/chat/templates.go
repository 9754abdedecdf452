package chat

import (
	"regexp"

	"golang.org/x/text/language"
)

// Intent is the category a question is classified into.
type Intent string

const (
	IntentUnemployment Intent = "unemployment"
	IntentPopulation   Intent = "population"
	IntentBusiness     Intent = "business"
	IntentGDP          Intent = "gdp"
	IntentComparison   Intent = "comparison"
	IntentHelp         Intent = "help"
)

// Indicator codes queried by the templates.
const (
	UnemploymentIndicator = "unemployment_rate"
	PopulationIndicator   = "population_total"
	BusinessIndicator     = "businesses_total"
	GDPIndicator          = "gdp_total"
)

type phrasing struct {
	lang    language.Tag
	pattern *regexp.Regexp
}

type template struct {
	intent   Intent
	category string
	// indicators is empty for templates that run no query.
	indicators  []string
	phrasings   []phrasing
	explanation map[language.Tag]string
	headline    map[language.Tag]string
}

// templates are tried in order; the first matching phrasing wins.
var templates = []template{
	{
		intent:     IntentComparison,
		indicators: []string{PopulationIndicator, UnemploymentIndicator, GDPIndicator},
		phrasings: []phrasing{
			{language.German, regexp.MustCompile(`(?i)\b(vergleich\w*|gegenüber)\b`)},
			{language.English, regexp.MustCompile(`(?i)\b(compar\w*|versus|vs\.?)\b`)},
		},
		explanation: map[language.Tag]string{
			language.German:  "Bevölkerung, Arbeitslosenquote und BIP der gewählten Regionen im selben Jahr, nur Gesamtwerte.",
			language.English: "Population, unemployment rate and GDP of the selected regions in the same year, totals only.",
		},
		headline: map[language.Tag]string{
			language.German:  "Vergleich",
			language.English: "Comparison",
		},
	},
	{
		intent:     IntentUnemployment,
		category:   "labor_market",
		indicators: []string{UnemploymentIndicator},
		phrasings: []phrasing{
			{language.German, regexp.MustCompile(`(?i)(arbeitslos\w*|erwerbslos\w*)`)},
			{language.English, regexp.MustCompile(`(?i)\b(unemploy\w*|jobless\w*)\b`)},
		},
		explanation: map[language.Tag]string{
			language.German:  "Arbeitslosenquote je Region, Gesamtwert ohne Aufschlüsselung nach Geschlecht oder Nationalität.",
			language.English: "Unemployment rate per region, total without breakdown by gender or nationality.",
		},
		headline: map[language.Tag]string{
			language.German:  "Arbeitslosenquote",
			language.English: "Unemployment rate",
		},
	},
	{
		intent:     IntentPopulation,
		category:   "demographics",
		indicators: []string{PopulationIndicator},
		phrasings: []phrasing{
			{language.German, regexp.MustCompile(`(?i)(bevölkerung\w*|einwohner\w*)`)},
			{language.English, regexp.MustCompile(`(?i)\b(population|inhabitants?|residents?|people)\b`)},
		},
		explanation: map[language.Tag]string{
			language.German:  "Bevölkerungsstand je Region, Gesamtwert aller Geschlechter, Nationalitäten und Altersgruppen.",
			language.English: "Population per region, total over all genders, nationalities and age groups.",
		},
		headline: map[language.Tag]string{
			language.German:  "Bevölkerung",
			language.English: "Population",
		},
	},
	{
		intent:     IntentBusiness,
		category:   "business_economy",
		indicators: []string{BusinessIndicator},
		phrasings: []phrasing{
			{language.German, regexp.MustCompile(`(?i)(unternehm\w*|betrieb\w*|gewerbe\w*|firm\w*)`)},
			{language.English, regexp.MustCompile(`(?i)\b(business\w*|compan\w*|enterprises?)\b`)},
		},
		explanation: map[language.Tag]string{
			language.German:  "Anzahl der Unternehmen je Region laut Unternehmensregister.",
			language.English: "Number of businesses per region from the business register.",
		},
		headline: map[language.Tag]string{
			language.German:  "Unternehmen",
			language.English: "Businesses",
		},
	},
	{
		intent:     IntentGDP,
		category:   "business_economy",
		indicators: []string{GDPIndicator},
		phrasings: []phrasing{
			{language.German, regexp.MustCompile(`(?i)(bruttoinlandsprodukt|\bbip\b|wirtschaftsleistung)`)},
			{language.English, regexp.MustCompile(`(?i)\b(gdp|gross domestic product|economic output)\b`)},
		},
		explanation: map[language.Tag]string{
			language.German:  "Bruttoinlandsprodukt zu Marktpreisen je Region.",
			language.English: "Gross domestic product at market prices per region.",
		},
		headline: map[language.Tag]string{
			language.German:  "Bruttoinlandsprodukt",
			language.English: "GDP",
		},
	},
}

var helpTemplate = template{
	intent: IntentHelp,
	explanation: map[language.Tag]string{
		language.German: "Ich beantworte Fragen zu Arbeitslosigkeit, Bevölkerung, Unternehmen und BIP der Städte und Kreise in NRW, " +
			"z.B. \"Wie hoch ist die Arbeitslosigkeit in Dortmund 2022?\" oder \"Vergleiche Essen und Bochum\".",
		language.English: "I answer questions about unemployment, population, businesses and GDP of the cities and districts of NRW, " +
			"e.g. \"What is the unemployment rate in Dortmund in 2022?\" or \"Compare Essen and Bochum\".",
	},
}

var (
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	germanPattern = regexp.MustCompile(`(?i)\b(wie|was|welche\w*|wo|hoch|gibt|und|der|die|das|in der|im jahr)\b`)
)

// classify returns the template for a question and the language to answer in.
func classify(question string) (template, language.Tag) {
	for _, tmpl := range templates {
		for _, p := range tmpl.phrasings {
			if p.pattern.MatchString(question) {
				return tmpl, p.lang
			}
		}
	}
	if germanPattern.MatchString(question) {
		return helpTemplate, language.German
	}
	return helpTemplate, language.English
}
