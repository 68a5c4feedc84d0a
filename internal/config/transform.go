package config

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform resolves a processor name from the config file to a string
// transform. An empty name yields nil so callers keep the value unchanged.
func Transform(name string) func(string) string {
	switch name {
	case "lower":
		return cases.Lower(language.Und).String
	case "upper":
		return cases.Upper(language.Und).String
	case "title":
		return cases.Title(language.Und, cases.NoLower).String
	case "trim":
		return strings.TrimSpace
	default:
		return nil
	}
}
