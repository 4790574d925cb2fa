// Package chunker splits long text into fragments that fit the chat
// transport's per-message size limit.
package chunker

// DefaultLimit is the Telegram message length cap.
const DefaultLimit = 4096

// Split slices text into fragments of at most max characters each.
// Concatenating the fragments in order reproduces text exactly; no
// trimming and no attempt to break at word boundaries. Empty input
// yields no fragments.
func Split(text string, max int) []string {
	if text == "" || max <= 0 {
		return nil
	}

	runes := []rune(text)
	fragments := make([]string, 0, (len(runes)+max-1)/max)
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, string(runes[start:end]))
	}
	return fragments
}
