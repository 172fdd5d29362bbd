package extractor

import (
	"path/filepath"
	"regexp"
	"strings"
)

// languageSpec holds the patterns used to pull structure out of source code.
// Every pattern captures the interesting name in its first group.
type languageSpec struct {
	functions []*regexp.Regexp
	classes   []*regexp.Regexp
	imports   []*regexp.Regexp
	branches  *regexp.Regexp
	// words that the function patterns may mistake for names
	reserved map[string]struct{}
}

var extensionLanguages = map[string]string{
	".py":   "python",
	".pyw":  "python",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".java": "java",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
}

var languageAliases = map[string]string{
	"py":         "python",
	"python3":    "python",
	"c++":        "cpp",
	"js":         "javascript",
	"node":       "javascript",
	"ts":         "typescript",
	"golang":     "go",
	"ipython":    "python",
	"ipython3":   "python",
	"javascript": "javascript",
}

func reservedWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var cLikeReserved = reservedWords("if", "for", "while", "switch", "catch", "return", "sizeof", "else", "do", "new", "delete", "throw")

var (
	cBranches  = regexp.MustCompile(`\b(if|else|for|while|do|switch|case|catch)\b`)
	jsFunction = regexp.MustCompile(`\bfunction\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`)
	jsArrow    = regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\([^()]*\)|[A-Za-z_$][\w$]*)\s*(?::\s*[\w<>\[\]|, ]+)?=>`)
	jsMethod   = regexp.MustCompile(`(?m)^\s+(?:async\s+|static\s+|public\s+|private\s+|protected\s+)*([A-Za-z_$][\w$]*)\s*\([^()]*\)\s*(?::\s*[\w<>\[\]|, ]+)?\s*\{`)
	jsClass    = regexp.MustCompile(`\b(?:class|interface)\s+([A-Za-z_$][\w$]*)`)
	jsImport   = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequire  = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
)

var languages = map[string]languageSpec{
	"python": {
		functions: []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*(?:async[ \t]+)?def[ \t]+([A-Za-z_]\w*)[ \t]*\(`)},
		classes:   []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*class[ \t]+([A-Za-z_]\w*)`)},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^[ \t]*(import[ \t]+[\w.]+(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[\w.]+(?:[ \t]+as[ \t]+\w+)?)*)`),
			regexp.MustCompile(`(?m)^[ \t]*(from[ \t]+[\w.]+[ \t]+import[ \t]+[^\n#]+?)[ \t]*(?:#.*)?$`),
		},
		branches: regexp.MustCompile(`\b(if|elif|else|for|while|try|except|with|match|case)\b`),
	},
	"c": {
		functions: []*regexp.Regexp{regexp.MustCompile(`(?m)^[A-Za-z_][\w \t\*]*?[\s\*]([A-Za-z_]\w*)[ \t]*\([^;{)]*\)[ \t\n]*\{`)},
		classes:   []*regexp.Regexp{regexp.MustCompile(`\b(?:struct|union|enum)[ \t]+([A-Za-z_]\w*)[ \t\n]*\{`)},
		imports:   []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*[<"]([^>"]+)[>"]`)},
		branches:  cBranches,
		reserved:  cLikeReserved,
	},
	"cpp": {
		functions: []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*[A-Za-z_][\w \t\*&:<>,]*?[\s\*&]((?:[A-Za-z_]\w*::)*~?[A-Za-z_]\w*)[ \t]*\([^;{)]*\)[ \t\w]*[ \t\n]*\{`)},
		classes:   []*regexp.Regexp{regexp.MustCompile(`\b(?:class|struct)[ \t]+([A-Za-z_]\w*)[^;{]*\{`)},
		imports:   []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*[<"]([^>"]+)[>"]`)},
		branches:  cBranches,
		reserved:  cLikeReserved,
	},
	"java": {
		functions: []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*(?:(?:public|private|protected|static|final|abstract|synchronized|native|default)[ \t]+)*(?:<[^>]+>[ \t]+)?[\w<>\[\],.? ]+[ \t]+([A-Za-z_]\w*)[ \t]*\([^;{)]*\)[ \t]*(?:throws[ \t]+[\w., \t]+)?[ \t\n]*\{`)},
		classes:   []*regexp.Regexp{regexp.MustCompile(`\b(?:class|interface|enum|record)[ \t]+([A-Za-z_]\w*)`)},
		imports:   []*regexp.Regexp{regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(?:static[ \t]+)?([\w.*]+)[ \t]*;`)},
		branches:  cBranches,
		reserved:  cLikeReserved,
	},
	"javascript": {
		functions: []*regexp.Regexp{jsFunction, jsArrow, jsMethod},
		classes:   []*regexp.Regexp{jsClass},
		imports:   []*regexp.Regexp{jsImport, jsRequire},
		branches:  cBranches,
		reserved:  cLikeReserved,
	},
	"typescript": {
		functions: []*regexp.Regexp{jsFunction, jsArrow, jsMethod},
		classes:   []*regexp.Regexp{jsClass, regexp.MustCompile(`\btype[ \t]+([A-Za-z_$][\w$]*)[ \t]*=`)},
		imports:   []*regexp.Regexp{jsImport, jsRequire},
		branches:  cBranches,
		reserved:  cLikeReserved,
	},
	"go": {
		functions: []*regexp.Regexp{regexp.MustCompile(`(?m)^func[ \t]+(?:\([^)]*\)[ \t]*)?([A-Za-z_]\w*)`)},
		classes:   []*regexp.Regexp{regexp.MustCompile(`(?m)^(?:type[ \t]+|[ \t]+)([A-Za-z_]\w*)[ \t]+(?:struct|interface)[ \t]*\{`)},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^import[ \t]+(?:[\w.]+[ \t]+)?"([^"]+)"`),
			regexp.MustCompile(`(?m)^[ \t]+(?:[\w.]+[ \t]+)?"([^"]+)"[ \t]*$`),
		},
		branches: regexp.MustCompile(`\b(if|else|for|switch|case|select)\b`),
	},
}

// genericSpec is used when the language is unknown. It only counts branches.
var genericSpec = languageSpec{branches: cBranches}

// DetectLanguage resolves a language from a hint or, failing that, from the
// file extension. It returns "" when neither is recognised.
func DetectLanguage(filename, hint string) string {
	if hint != "" {
		h := strings.ToLower(strings.TrimSpace(hint))
		if alias, ok := languageAliases[h]; ok {
			return alias
		}
		if _, ok := languages[h]; ok {
			return h
		}
	}
	return extensionLanguages[strings.ToLower(filepath.Ext(filename))]
}

type codeStructure struct {
	functions []string
	classes   []string
	imports   []string
	branches  int
}

// analyzeCode extracts identifiers, imports and a branch count from source
// text. The code is never executed.
func analyzeCode(src, language string) codeStructure {
	spec, ok := languages[language]
	if !ok {
		spec = genericSpec
	}

	stripped := stripComments(src, language)

	var cs codeStructure
	cs.functions = collect(stripped, spec.functions, spec.reserved)
	cs.classes = collect(stripped, spec.classes, nil)
	if language == "go" {
		cs.imports = goImports(stripped)
	} else {
		cs.imports = collect(stripped, spec.imports, nil)
	}
	if spec.branches != nil {
		cs.branches = len(spec.branches.FindAllStringIndex(stripStrings(stripped), -1))
	}
	return cs
}

func collect(src string, patterns []*regexp.Regexp, reserved map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" {
				continue
			}
			if _, skip := reserved[name]; skip {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

var goImportBlock = regexp.MustCompile(`(?s)\bimport[ \t]*\((.*?)\)`)

func goImports(src string) []string {
	spec := languages["go"]
	var out []string
	seen := make(map[string]struct{})
	add := func(names []string) {
		for _, n := range names {
			if _, dup := seen[n]; !dup {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
	}

	add(collect(src, spec.imports[:1], nil))
	for _, block := range goImportBlock.FindAllStringSubmatch(src, -1) {
		add(collect(block[1], spec.imports[1:], nil))
	}
	return out
}

var (
	hashComment  = regexp.MustCompile(`(?m)#.*$`)
	slashComment = regexp.MustCompile(`(?m)//.*$`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	stringLit    = regexp.MustCompile(`"(?:[^"\\\n]|\\.)*"|'(?:[^'\\\n]|\\.)*'`)
)

func stripComments(src, language string) string {
	switch language {
	case "python":
		return hashComment.ReplaceAllString(src, "")
	case "":
		return src
	default:
		// keep #include lines, they are not comments in C-family languages
		return slashComment.ReplaceAllString(blockComment.ReplaceAllString(src, ""), "")
	}
}

// stripStrings blanks out string literals so keywords inside them are not
// counted as branches.
func stripStrings(src string) string {
	return stringLit.ReplaceAllString(src, `""`)
}
