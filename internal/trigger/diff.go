package trigger

import (
	"path"
	"strings"
)

// trivialMinimalLines is the floor below which any diff is trivial regardless
// of composition.
const trivialMinimalLines = 2

// docExtensions are file suffixes classified as documentation.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".rst":      true,
	".txt":      true,
	".adoc":     true,
}

// DiffAnalysis summarizes a unified diff for trigger classification.
type DiffAnalysis struct {
	TotalLines     int    `json:"total_lines"`
	CodeLines      int    `json:"code_lines"`
	DocLines       int    `json:"doc_lines"`
	Added          int    `json:"added"`
	Removed        int    `json:"removed"`
	FilesChanged   int    `json:"files_changed"`
	DocFiles       int    `json:"doc_files"`
	WhitespaceOnly bool   `json:"whitespace_only"`
	DocOnly        bool   `json:"doc_only"`
	Trivial        bool   `json:"trivial"`
	TrivialReason  string `json:"trivial_reason,omitempty"`
}

// isDocPath reports whether a changed file counts as documentation.
func isDocPath(p string) bool {
	if docExtensions[strings.ToLower(path.Ext(p))] {
		return true
	}
	for _, part := range strings.Split(path.Dir(p), "/") {
		if part == "docs" || part == "doc" {
			return true
		}
	}
	return false
}

// AnalyzeDiff classifies the changed lines of a unified diff into code and
// documentation, and decides triviality per the maxDocLines threshold:
// a diff is trivial when it is empty, whitespace-only, at or below the
// minimal floor, or doc-only at or below the threshold.
func AnalyzeDiff(diff string, maxDocLines int) DiffAnalysis {
	a := DiffAnalysis{}

	if strings.TrimSpace(diff) == "" {
		a.Trivial = true
		a.WhitespaceOnly = true
		a.DocOnly = true
		a.TrivialReason = "Empty diff"
		return a
	}

	var (
		currentDoc   bool
		removedStack []string
		whitespace   = true
	)
	flushRemoved := func() {
		// Removed lines with no paired additions are substantive.
		if len(removedStack) > 0 {
			whitespace = false
			removedStack = removedStack[:0]
		}
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git"), strings.HasPrefix(line, "+++ "):
			// File headers carry the path on the "+++ b/..." line.
			if strings.HasPrefix(line, "+++ ") {
				p := strings.TrimPrefix(line, "+++ ")
				p = strings.TrimPrefix(p, "b/")
				if p != "/dev/null" {
					a.FilesChanged++
					currentDoc = isDocPath(p)
					if currentDoc {
						a.DocFiles++
					}
				}
			}
			flushRemoved()
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "@@"),
			strings.HasPrefix(line, "index "), strings.HasPrefix(line, "new file"),
			strings.HasPrefix(line, "deleted file"), strings.HasPrefix(line, "similarity"),
			strings.HasPrefix(line, "rename "), strings.HasPrefix(line, "Binary files"):
			flushRemoved()
		case strings.HasPrefix(line, "-"):
			a.Removed++
			a.TotalLines++
			if t := strings.TrimSpace(line[1:]); t != "" {
				removedStack = append(removedStack, t)
			}
			if currentDoc {
				a.DocLines++
			} else {
				a.CodeLines++
			}
		case strings.HasPrefix(line, "+"):
			a.Added++
			a.TotalLines++
			if currentDoc {
				a.DocLines++
			} else {
				a.CodeLines++
			}
			// Whitespace-only holds while every added line matches a removed
			// line after stripping leading/trailing whitespace.
			trimmed := strings.TrimSpace(line[1:])
			if trimmed == "" {
				break
			}
			matched := false
			for i, r := range removedStack {
				if r == trimmed {
					removedStack = append(removedStack[:i], removedStack[i+1:]...)
					matched = true
					break
				}
			}
			if !matched {
				whitespace = false
			}
		}
	}
	flushRemoved()

	a.WhitespaceOnly = whitespace && a.TotalLines > 0
	a.DocOnly = a.FilesChanged > 0 && a.DocFiles == a.FilesChanged

	switch {
	case a.TotalLines == 0:
		a.Trivial = true
		a.TrivialReason = "Empty diff"
	case a.WhitespaceOnly:
		a.Trivial = true
		a.TrivialReason = "Whitespace-only change"
	case a.TotalLines <= trivialMinimalLines:
		a.Trivial = true
		a.TrivialReason = "Trivial change"
	case a.DocOnly && a.TotalLines <= maxDocLines:
		a.Trivial = true
		a.TrivialReason = "Trivial change (docs only)"
	}

	return a
}
