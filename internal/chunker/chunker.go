package chunker

import (
	"strings"
	"unicode/utf8"
)

// separators ordered coarse to fine. The trailing empty string means "stop":
// a span containing none of the real separators is an unsplittable token and
// is emitted whole even when it exceeds the size bound.
var separators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}

// Split divides text into segments of at most size characters, preferring to
// break on the coarsest separator available and carrying overlap characters
// between adjacent segments so context survives the boundary. It is a pure
// function: no I/O, deterministic for identical input and parameters.
func Split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return split(text, size, overlap, separators)
}

func split(text string, size, overlap int, seps []string) []string {
	if len(text) <= size {
		return []string{text}
	}
	sep, finer, ok := pickSeparator(text, seps)
	if !ok {
		// unsplittable token, emitted uncut
		return []string{text}
	}
	parts := strings.SplitAfter(text, sep)
	var pieces []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len(p) > size {
			pieces = append(pieces, split(p, size, overlap, finer)...)
		} else {
			pieces = append(pieces, p)
		}
	}
	return merge(pieces, size, overlap)
}

// pickSeparator returns the coarsest separator occurring in text together
// with the remaining finer ones.
func pickSeparator(text string, seps []string) (string, []string, bool) {
	for i, s := range seps {
		if s == "" {
			return "", nil, false
		}
		if strings.Contains(text, s) {
			return s, seps[i+1:], true
		}
	}
	return "", nil, false
}

// merge packs pieces into segments of at most size characters. Each emitted
// segment seeds the next with its trailing overlap characters; a piece that
// alone exceeds size is an unsplittable token and passes through whole.
func merge(pieces []string, size, overlap int) []string {
	var out []string
	cur := ""
	fresh := false
	for _, p := range pieces {
		if len(p) > size {
			if fresh {
				out = append(out, cur)
			}
			out = append(out, p)
			cur = tail(p, overlap)
			fresh = false
			continue
		}
		if len(cur)+len(p) > size {
			if fresh {
				out = append(out, cur)
				cur = tail(cur, overlap)
				fresh = false
			}
			if len(cur)+len(p) > size {
				// the overlap carry alone would overflow this segment
				cur = ""
			}
		}
		cur += p
		fresh = true
	}
	if fresh {
		out = append(out, cur)
	}
	return out
}

// tail returns at most n trailing bytes of s, aligned to a rune boundary.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
