package doctree

// Run is a single text run extracted from a document, annotated with a
// font-size-like emphasis signal. Parsers for formats without native font
// sizes synthesize Size so that headings land above the title threshold.
type Run struct {
	Text string
	Size float64
}

// Section is a node in a document's structural tree. The root section has
// no title and is never itself emitted as a chunk.
type Section struct {
	Title    string
	Level    int
	Children []Node
}

// Content is a run of body text attached to its nearest enclosing Section.
type Content struct {
	Text string
}

// Node is either a *Section or a *Content.
type Node interface {
	isNode()
}

func (*Section) isNode() {}
func (*Content) isNode() {}

// AddSection appends a child section and returns it.
func (s *Section) AddSection(title string, level int) *Section {
	child := &Section{Title: title, Level: level}
	s.Children = append(s.Children, child)
	return child
}

// AddContent appends a content leaf.
func (s *Section) AddContent(text string) {
	s.Children = append(s.Children, &Content{Text: text})
}

// Metadata is the positional context attached to a chunk.
type Metadata struct {
	Path  string `json:"path"`
	Level int    `json:"level"`
}

// Chunk is the flattened retrieval unit: a run of text plus the breadcrumb
// path of section titles enclosing it. Chunks are immutable once produced
// and do not reference the tree.
type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}
