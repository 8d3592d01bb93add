// Package includes extracts the header list from cl.exe's /showIncludes
// output and strips those lines from the stream handed back to the caller.
package includes

import (
	"bufio"
	"bytes"
	"strings"

	"golang.org/x/text/cases"
)

// localePrefixes is the pluggable table of "including file" markers cl.exe
// emits under /showIncludes, one per locale it might be running under (spec
// §4.4 open question). Extending to another locale is adding an entry here.
var localePrefixes = []string{
	"Note: including file:",
	"Hinweis: Einlesen der Datei:", // German
}

var folder = cases.Fold(cases.Compact)

// matchPrefix reports whether line begins with one of localePrefixes,
// case- and locale-tolerantly, and returns the remainder of the line. The cut
// point is len(prefix) on the original line, not the folded one: every
// prefix seeded today is ASCII, where case folding never changes byte
// length, but a locale whose fold does change length would need the cut
// computed on the folded string instead.
func matchPrefix(line string) (rest string, matched bool) {
	folded := folder.String(line)
	for _, prefix := range localePrefixes {
		foldedPrefix := folder.String(prefix)
		if len(folded) >= len(foldedPrefix) && strings.HasPrefix(folded, foldedPrefix) {
			return line[len(prefix):], true
		}
	}
	return "", false
}

// Parse splits the compiler's stdout (produced by a /showIncludes-enabled
// run) into the set of absolute header paths it reported and the stdout
// with those lines removed (spec §4.4). Paths are lowercased so they can be
// used directly as manifest keys regardless of how the compiler cased them.
// Order of first appearance is preserved in headers, duplicates dropped.
func Parse(stdout []byte) (headers []string, stripped []byte) {
	seen := make(map[string]struct{})
	var strippedLines []string

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if rest, matched := matchPrefix(line); matched {
			headerPath := strings.ToLower(strings.TrimSpace(rest))
			if headerPath == "" {
				continue
			}
			if _, already := seen[headerPath]; !already {
				seen[headerPath] = struct{}{}
				headers = append(headers, headerPath)
			}
			continue
		}
		strippedLines = append(strippedLines, line)
	}

	return headers, []byte(strings.Join(strippedLines, "\n"))
}
