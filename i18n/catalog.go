// Package i18n looks up localized response messages by key.
package i18n

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var bundled []byte

// Catalog maps language -> key -> text. Lookups fall back from a regional tag
// to its base language, then to the default language, then to the key itself.
type Catalog struct {
	messages map[string]map[string]string
	fallback string
	langs    []string
	matcher  language.Matcher
}

// Load parses the bundled message file.
func Load(fallback string) (*Catalog, error) {
	return Parse(bundled, fallback)
}

func Parse(raw []byte, fallback string) (*Catalog, error) {
	var m map[string]map[string]string
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("i18n: parse catalog: %w", err)
	}
	if fallback == "" {
		fallback = "en"
	}
	if _, ok := m[fallback]; !ok {
		return nil, fmt.Errorf("i18n: fallback language %q missing from catalog", fallback)
	}

	// the matcher's first tag is its default, so the fallback leads
	langs := make([]string, 0, len(m))
	for lang := range m {
		if lang != fallback {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	langs = append([]string{fallback}, langs...)
	tags := make([]language.Tag, len(langs))
	for i, lang := range langs {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("i18n: catalog language %q: %w", lang, err)
		}
		tags[i] = tag
	}
	return &Catalog{messages: m, fallback: fallback, langs: langs, matcher: language.NewMatcher(tags)}, nil
}

func (c *Catalog) Get(key, lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if msg, ok := c.messages[lang][key]; ok {
		return msg
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		if msg, ok := c.messages[base][key]; ok {
			return msg
		}
	}
	if msg, ok := c.messages[c.fallback][key]; ok {
		return msg
	}
	return key
}

// Negotiate picks the best supported language from an Accept-Language header.
// The result is a catalog key; unparseable or unmatched headers yield the
// fallback.
func (c *Catalog) Negotiate(header string) string {
	desired, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(desired) == 0 {
		return c.fallback
	}
	_, index, confidence := c.matcher.Match(desired...)
	if confidence == language.No {
		return c.fallback
	}
	return c.langs[index]
}
