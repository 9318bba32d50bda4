package langtag

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Normalize converts user language input into the base ISO 639-1 code the
// speech engine consumes. Empty input returns empty with no error so callers
// can fall through to their configured default.
func Normalize(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", nil
	}

	tag, err := language.Parse(trimmed)
	if err != nil {
		// Not a tag; try a display-name lookup ("german" -> de).
		if code, ok := lookupByName(trimmed); ok {
			return code, nil
		}
		return "", fmt.Errorf("unrecognized language %q: %w", input, err)
	}

	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("language %q has no usable base code", input)
	}
	return base.String(), nil
}

// DisplayName returns the English display name for a normalized code, or the
// code itself when no name is known.
func DisplayName(code string) string {
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

func lookupByName(name string) (string, bool) {
	want := strings.ToLower(name)
	namer := display.English.Tags()
	for _, tag := range supportedTags {
		if strings.ToLower(namer.Name(tag)) == want {
			base, _ := tag.Base()
			return base.String(), true
		}
	}
	return "", false
}

// supportedTags covers the languages the bundled speech models ship with.
var supportedTags = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Italian,
	language.Portuguese,
	language.Japanese,
	language.Korean,
	language.Chinese,
	language.Russian,
	language.Arabic,
	language.Hindi,
	language.Dutch,
	language.Polish,
	language.Swedish,
	language.Danish,
	language.Norwegian,
	language.Finnish,
}
