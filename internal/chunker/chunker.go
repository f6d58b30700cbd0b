package chunker

import (
	"strings"

	"kbvector/internal/doctree"
)

// PathSeparator joins section titles into a chunk's breadcrumb path.
const PathSeparator = " > "

// DefaultTitleThreshold is the emphasis size above which a run is treated
// as a section title.
const DefaultTitleThreshold = 20

// UntitledSection is the title given to content that appears before any
// heading-sized run.
const UntitledSection = "Untitled"

// BuildTree reduces an ordered run sequence into a structural tree. Runs
// whose size exceeds titleThreshold start a new level-1 section under the
// root; everything else attaches to the current section as content. Body
// text seen before any title goes into a lazily created "Untitled" section
// at level 0. Empty-after-trim runs are skipped.
//
// The hierarchy is deliberately flat: titles always open siblings under the
// root, never nested subsections. The tree model supports deeper nesting so
// a multi-threshold heuristic can be added without changing the Chunk shape.
func BuildTree(runs []doctree.Run, titleThreshold float64) *doctree.Section {
	if titleThreshold <= 0 {
		titleThreshold = DefaultTitleThreshold
	}

	root := &doctree.Section{}
	current := root

	for _, run := range runs {
		text := strings.TrimSpace(run.Text)
		if text == "" {
			continue
		}
		if run.Size > titleThreshold {
			current = root.AddSection(text, 1)
			continue
		}
		if current == root {
			current = root.AddSection(UntitledSection, 0)
		}
		current.AddContent(text)
	}

	return root
}

// Flatten walks the tree depth-first and emits one chunk per content leaf.
// Each section contributes its title to the breadcrumb path passed to its
// descendants. Output order equals document order; consumers may rely on
// adjacent chunks being adjacent in the source.
func Flatten(root *doctree.Section) []doctree.Chunk {
	var chunks []doctree.Chunk
	flattenInto(root, nil, 0, &chunks)
	return chunks
}

func flattenInto(sec *doctree.Section, path []string, level int, chunks *[]doctree.Chunk) {
	for _, node := range sec.Children {
		switch n := node.(type) {
		case *doctree.Section:
			flattenInto(n, append(path, n.Title), n.Level, chunks)
		case *doctree.Content:
			*chunks = append(*chunks, doctree.Chunk{
				Text: n.Text,
				Metadata: doctree.Metadata{
					Path:  strings.Join(path, PathSeparator),
					Level: level,
				},
			})
		}
	}
}

// Chunks is a convenience wrapper: build the tree and flatten it in one
// pass over the input runs.
func Chunks(runs []doctree.Run, titleThreshold float64) []doctree.Chunk {
	return Flatten(BuildTree(runs, titleThreshold))
}
