// Package chunker decomposes file text into semantically meaningful
// chunks. Structured languages split at top-level declarations,
// Markdown splits at headings, everything else uses a sliding window.
package chunker

import "regexp"

const (
	// DefaultMaxLines is the default maximum lines per chunk.
	DefaultMaxLines = 100

	// DefaultOverlapLines is the default number of trailing lines
	// carried into the next chunk when a size split occurs.
	DefaultOverlapLines = 10
)

// Chunk is one chunk body with its 1-based, closed line range.
type Chunk struct {
	Content     string
	StartLine   int
	EndLine     int
	SectionType string
	SectionName string
}

// Options bound chunk sizes. Zero values use the defaults.
type Options struct {
	MaxLines     int
	OverlapLines int
}

func (o Options) withDefaults() Options {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultMaxLines
	}

	if o.OverlapLines < 0 {
		o.OverlapLines = DefaultOverlapLines
	}

	return o
}

// declRule recognizes a top-level declaration line and tags the chunk
// it opens. When typeGroup is non-zero the section type is taken from
// that capture group instead of sectionType.
type declRule struct {
	re          *regexp.Regexp
	sectionType string
	typeGroup   int
	nameGroup   int
}

var pythonRules = []declRule{
	{re: regexp.MustCompile(`^class\s+(\w+)`), sectionType: "class", nameGroup: 1},
	{re: regexp.MustCompile(`^def\s+(\w+)`), sectionType: "function", nameGroup: 1},
}

var typescriptRules = []declRule{
	{re: regexp.MustCompile(`^\s*(?:export\s+)?(interface|class|async function|function)\s+(\w+)`), typeGroup: 1, nameGroup: 2},
	{re: regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), sectionType: "function", nameGroup: 1},
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// File chunks content according to the language tag. Unknown languages
// use the generic sliding-window strategy.
func File(content, language string, opts Options) []Chunk {
	opts = opts.withDefaults()

	switch language {
	case LangPython:
		return chunkStructured(content, pythonRules, opts)
	case LangTypeScript, LangJavaScript:
		return chunkStructured(content, typescriptRules, opts)
	case LangMarkdown:
		return chunkMarkdown(content, opts)
	default:
		return chunkGeneric(content, opts)
	}
}

// matchDecl returns the section tag for a declaration line, or ok=false.
func matchDecl(line string, rules []declRule) (sectionType, sectionName string, ok bool) {
	for _, rule := range rules {
		m := rule.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		sectionType = rule.sectionType
		if rule.typeGroup > 0 {
			sectionType = m[rule.typeGroup]
			if sectionType == "async function" {
				sectionType = "function"
			}
		}

		return sectionType, m[rule.nameGroup], true
	}

	return "", "", false
}

func chunkStructured(content string, rules []declRule, opts Options) []Chunk {
	lines := splitLines(content)

	var (
		chunks       []Chunk
		current      []string
		sectionType  string
		sectionName  string
		currentStart = 1
	)

	for i, line := range lines {
		idx := i + 1 // 1-based

		declType, declName, isDecl := matchDecl(line, rules)
		if isDecl {
			if len(current) > 0 {
				chunks = append(chunks, Chunk{
					Content:     joinLines(current),
					StartLine:   currentStart,
					EndLine:     idx - 1,
					SectionType: sectionType,
					SectionName: sectionName,
				})
			}

			current = []string{line}
			currentStart = idx
			sectionType = declType
			sectionName = declName
		} else {
			current = append(current, line)
		}

		if len(current) >= opts.MaxLines {
			chunks = append(chunks, Chunk{
				Content:     joinLines(current),
				StartLine:   currentStart,
				EndLine:     idx,
				SectionType: sectionType,
				SectionName: sectionName,
			})

			// Carry the tail into the next chunk and shift its start
			// back over the overlapped lines.
			overlapStart := len(current) - opts.OverlapLines
			if overlapStart < 0 {
				overlapStart = 0
			}

			current = append([]string(nil), current[overlapStart:]...)
			currentStart = idx - opts.OverlapLines + 1
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, Chunk{
			Content:     joinLines(current),
			StartLine:   currentStart,
			EndLine:     len(lines),
			SectionType: sectionType,
			SectionName: sectionName,
		})
	}

	return chunks
}

func chunkMarkdown(content string, opts Options) []Chunk {
	lines := splitLines(content)

	var (
		chunks       []Chunk
		current      []string
		sectionName  string
		currentStart = 1
	)

	for i, line := range lines {
		idx := i + 1

		m := headingRe.FindStringSubmatch(line)
		if m != nil {
			if len(current) > 0 {
				chunks = append(chunks, Chunk{
					Content:     joinLines(current),
					StartLine:   currentStart,
					EndLine:     idx - 1,
					SectionType: "section",
					SectionName: sectionName,
				})
			}

			current = []string{line}
			currentStart = idx
			sectionName = m[2]

			continue
		}

		current = append(current, line)

		// Size splits carry no overlap for markdown.
		if len(current) >= opts.MaxLines {
			chunks = append(chunks, Chunk{
				Content:     joinLines(current),
				StartLine:   currentStart,
				EndLine:     idx,
				SectionType: "section",
				SectionName: sectionName,
			})

			current = nil
			currentStart = idx + 1
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, Chunk{
			Content:     joinLines(current),
			StartLine:   currentStart,
			EndLine:     len(lines),
			SectionType: "section",
			SectionName: sectionName,
		})
	}

	return chunks
}

func chunkGeneric(content string, opts Options) []Chunk {
	lines := splitLines(content)

	step := opts.MaxLines - opts.OverlapLines
	if step <= 0 {
		step = opts.MaxLines
	}

	var chunks []Chunk

	for idx := 0; idx < len(lines); idx += step {
		end := idx + opts.MaxLines
		if end > len(lines) {
			end = len(lines)
		}

		chunks = append(chunks, Chunk{
			Content:   joinLines(lines[idx:end]),
			StartLine: idx + 1,
			EndLine:   end,
		})
	}

	return chunks
}
