package translator

import "strings"

const thinkEndTag = "</think>"

// SplitReasoning separates a "</think>" terminated reasoning preamble from
// the final answer. Content without the tag is returned unchanged as final.
func SplitReasoning(content string) (reasoning, final string) {
	idx := strings.Index(content, thinkEndTag)
	if idx < 0 {
		return "", content
	}
	return strings.TrimSpace(content[:idx]), strings.TrimSpace(content[idx+len(thinkEndTag):])
}

// ReasoningSplitter performs SplitReasoning incrementally over stream deltas.
// Fragments before the end tag are reasoning, fragments after it are content.
// It never holds back text, so each fragment yields output immediately.
// A tag split across two fragments is not detected.
type ReasoningSplitter struct {
	done bool
}

// Split classifies one fragment.
func (s *ReasoningSplitter) Split(fragment string) (reasoning, content string) {
	if s.done {
		return "", fragment
	}
	idx := strings.Index(fragment, thinkEndTag)
	if idx < 0 {
		return fragment, ""
	}
	s.done = true
	return fragment[:idx], strings.TrimLeft(fragment[idx+len(thinkEndTag):], "\n")
}

// Stop ends the reasoning section: later fragments are content.
func (s *ReasoningSplitter) Stop() {
	s.done = true
}
