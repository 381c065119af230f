package chunker

import (
	"path/filepath"
	"strings"

	"github.com/src-d/enry/v2"
)

// Language tags used to resolve a chunking strategy.
const (
	LangPython     = "python"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangMarkdown   = "markdown"
	LangGeneric    = "generic"
)

// extensionLanguages maps file suffixes to language tags. Unknown
// suffixes fall through to enry detection and finally to generic.
var extensionLanguages = map[string]string{
	".py":    LangPython,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".md":    LangMarkdown,
	".mdx":   LangMarkdown,
	".rs":    "rust",
	".go":    "go",
	".java":  "java",
	".cpp":   "cpp",
	".c":     "c",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
}

// syncableExtensions are additional suffixes synced without a
// language-specific strategy.
var syncableExtensions = map[string]struct{}{
	".json": {},
	".yaml": {},
	".yml":  {},
	".toml": {},
	".sql":  {},
	".sh":   {},
	".bash": {},
}

// SyncableExtension reports whether a path's suffix is worth syncing.
func SyncableExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	_, known := extensionLanguages[ext]
	if known {
		return true
	}

	_, generic := syncableExtensions[ext]

	return generic
}

// enryLanguages maps enry's language names to our tags for the
// languages that have a dedicated strategy.
var enryLanguages = map[string]string{
	"Python":     LangPython,
	"TypeScript": LangTypeScript,
	"TSX":        LangTypeScript,
	"JavaScript": LangJavaScript,
	"JSX":        LangJavaScript,
	"Markdown":   LangMarkdown,
}

// DetectLanguage resolves a language tag for the given path, consulting
// the extension table first and enry content detection second.
// Content may be nil when only the path is available.
func DetectLanguage(path string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(path))

	lang, ok := extensionLanguages[ext]
	if ok {
		return lang
	}

	detected := enry.GetLanguage(filepath.Base(path), content)
	if detected == "" {
		return LangGeneric
	}

	mapped, ok := enryLanguages[detected]
	if ok {
		return mapped
	}

	return strings.ToLower(detected)
}
