package trigger

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// docDiff builds a unified diff touching README.md with n added lines.
func docDiff(n int) string {
	var b strings.Builder
	b.WriteString("diff --git a/README.md b/README.md\n")
	b.WriteString("--- a/README.md\n+++ b/README.md\n@@ -1,0 +1," + fmt.Sprint(n) + " @@\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "+doc line %d\n", i)
	}
	return b.String()
}

// codeDiff builds a unified diff touching main.go with n added lines.
func codeDiff(n int) string {
	var b strings.Builder
	b.WriteString("diff --git a/main.go b/main.go\n")
	b.WriteString("--- a/main.go\n+++ b/main.go\n@@ -1,0 +1," + fmt.Sprint(n) + " @@\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "+x%d := %d\n", i, i)
	}
	return b.String()
}

func TestAnalyzeDiff_Empty(t *testing.T) {
	a := AnalyzeDiff("", 10)
	assert.True(t, a.Trivial)
	assert.Equal(t, "Empty diff", a.TrivialReason)
	assert.Zero(t, a.TotalLines)
}

func TestAnalyzeDiff_WhitespaceOnly(t *testing.T) {
	diff := "diff --git a/main.go b/main.go\n" +
		"--- a/main.go\n+++ b/main.go\n@@ -1,2 +1,2 @@\n" +
		"-\tfoo()\n"
		// Re-indented, same content.
	diff += "+    foo()\n"

	a := AnalyzeDiff(diff, 10)
	assert.True(t, a.WhitespaceOnly)
	assert.True(t, a.Trivial)
	assert.Equal(t, "Whitespace-only change", a.TrivialReason)
}

func TestAnalyzeDiff_BlankLinesOnly(t *testing.T) {
	diff := "diff --git a/main.go b/main.go\n" +
		"--- a/main.go\n+++ b/main.go\n@@ -1,1 +1,3 @@\n" +
		"+\n+\n"
	a := AnalyzeDiff(diff, 10)
	assert.True(t, a.WhitespaceOnly)
	assert.True(t, a.Trivial)
}

func TestAnalyzeDiff_DocOnlyAtThreshold(t *testing.T) {
	a := AnalyzeDiff(docDiff(10), 10)
	assert.True(t, a.DocOnly)
	assert.Equal(t, 10, a.TotalLines)
	assert.True(t, a.Trivial, "doc-only diff at threshold is trivial")
}

func TestAnalyzeDiff_DocOnlyAboveThreshold(t *testing.T) {
	a := AnalyzeDiff(docDiff(11), 10)
	assert.True(t, a.DocOnly)
	assert.Equal(t, 11, a.TotalLines)
	assert.False(t, a.Trivial, "doc-only diff above threshold is not trivial")
}

func TestAnalyzeDiff_MinimalFloor(t *testing.T) {
	a := AnalyzeDiff(codeDiff(2), 10)
	assert.True(t, a.Trivial, "two-line code change is below the minimal floor")

	a = AnalyzeDiff(codeDiff(3), 10)
	assert.False(t, a.Trivial)
}

func TestAnalyzeDiff_CodeAndDocSplit(t *testing.T) {
	a := AnalyzeDiff(codeDiff(5)+docDiff(4), 10)
	assert.Equal(t, 5, a.CodeLines)
	assert.Equal(t, 4, a.DocLines)
	assert.Equal(t, 2, a.FilesChanged)
	assert.Equal(t, 1, a.DocFiles)
	assert.False(t, a.DocOnly)
	assert.False(t, a.Trivial)
}

func TestAnalyzeDiff_DocsDirectory(t *testing.T) {
	diff := "diff --git a/docs/guide.html b/docs/guide.html\n" +
		"--- a/docs/guide.html\n+++ b/docs/guide.html\n@@ -1,0 +1,3 @@\n" +
		"+<p>a</p>\n+<p>b</p>\n+<p>c</p>\n"
	a := AnalyzeDiff(diff, 10)
	assert.True(t, a.DocOnly, "files under docs/ count as documentation")
}
