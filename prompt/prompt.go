// Package prompt composes the per-locale system prompt the orchestrator
// prepends to every model request: an assistant-persona paragraph, the
// tool catalogue, and one of two tool-invocation instruction blocks
// selected by the parallel-function-call flag.
package prompt

import (
	"embed"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = map[string]*template.Template{}

func init() {
	for _, lang := range []string{"english", "chinese", "japanese", "korean"} {
		t := template.Must(template.ParseFS(templatesFS, "templates/"+lang+".tmpl"))
		templates[lang] = t
	}
}

// The four sentinel markers, duplicated here (rather than imported from the
// root ember package) to keep this package free of a dependency on the
// orchestrator; both copies must name the same literal constants.
const (
	fnName   = "✿FUNCTION✿"
	fnArgs   = "✿ARGS✿"
	fnResult = "✿RESULT✿"
	fnExit   = "✿RETURN✿"
)

type templateData struct {
	CurrentDate  string
	FnName       string
	FnArgs       string
	FnResult     string
	FnExit       string
	ToolDescs    string
	ToolNames    string
	Parallel     bool
	CustomPrefix string
}

// Tool is the minimal shape prompt needs from a tool description; avoids
// importing the root ember package.
type Tool struct {
	NameForHuman        string
	DescriptionForModel string
}

// Render composes the system prompt for lang (one of "english", "chinese",
// "japanese", "korean"; unknown values fall back to "english"), the given
// tool catalogue, the parallel-function-call instruction variant, and an
// optional custom prefix appended after the generated instructions.
func Render(lang string, parallel bool, customPrefix string, tools []Tool) (string, error) {
	t, ok := templates[lang]
	if !ok {
		t = templates["english"]
	}

	var descs strings.Builder
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		descs.WriteString("- ")
		descs.WriteString(tool.NameForHuman)
		descs.WriteString(": ")
		descs.WriteString(tool.DescriptionForModel)
		descs.WriteString("\n")
		names = append(names, tool.NameForHuman)
	}

	data := templateData{
		CurrentDate:  time.Now().UTC().Format("2006-01-02"),
		FnName:       fnName,
		FnArgs:       fnArgs,
		FnResult:     fnResult,
		FnExit:       fnExit,
		ToolDescs:    descs.String(),
		ToolNames:    strings.Join(names, ", "),
		Parallel:     parallel,
		CustomPrefix: customPrefix,
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// scriptRange is one Unicode block diagnostic of a given language's script.
type scriptRange struct {
	lang     string
	lo, hi   rune
}

// scriptRanges are checked in order; the first language whose script
// appears anywhere in the sample text wins. This is a coarse heuristic
// (script family, not statistical language modelling) but is sufficient
// to distinguish the four supported locales, which do not share scripts
// except for the ambiguity Kana resolves before Han is checked.
var scriptRanges = []scriptRange{
	{"korean", 0xAC00, 0xD7A3},   // Hangul syllables
	{"japanese", 0x3040, 0x30FF}, // Hiragana + Katakana
	{"chinese", 0x4E00, 0x9FFF},  // CJK Unified Ideographs
}

// Detect guesses a language code from a sample of text (typically the
// last user message), falling back to "english" when no recognized script
// is present. This stands in for the upstream `detect(last user-text)`
// step spec.md leaves unspecified in detail.
func Detect(sample string) string {
	for _, sr := range scriptRanges {
		for _, r := range sample {
			if r >= sr.lo && r <= sr.hi {
				return sr.lang
			}
		}
	}
	return "english"
}
