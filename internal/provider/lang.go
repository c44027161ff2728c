package provider

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// AutoDetect is the source language value that triggers detection.
const AutoDetect = "auto"

// languageName turns a language code into the English name the prompt
// uses ("zh" -> "Chinese"). Unparseable codes pass through unchanged so
// the model still gets something to work with.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return code
	}
	return name
}

// detectLanguage samples the batch text and returns an ISO 639-1 code,
// or empty when detection is unreliable.
func detectLanguage(texts []string) string {
	var sample strings.Builder
	for _, text := range texts {
		if sample.Len() > 2000 {
			break
		}
		sample.WriteString(text)
		sample.WriteString("\n")
	}
	if strings.TrimSpace(sample.String()) == "" {
		return ""
	}

	info := whatlanggo.Detect(sample.String())
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
