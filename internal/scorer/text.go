package scorer

import (
	"regexp"
	"strings"
)

var (
	urlPattern   = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailPattern = regexp.MustCompile(`\S+@\S+`)
	junkPattern  = regexp.MustCompile(`[^a-z0-9\s+#.\-]`)
)

// clean lowercases s, drops URLs and emails and replaces every character
// outside [a-z0-9+#.-] with a space.
func clean(s string) string {
	s = strings.ToLower(s)
	s = urlPattern.ReplaceAllString(s, " ")
	s = emailPattern.ReplaceAllString(s, " ")
	s = junkPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// words splits cleaned text and trims sentence punctuation. ".net" keeps its
// leading dot.
func words(cleaned string) []string {
	fields := strings.Fields(cleaned)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimRight(f, ".-")
		f = strings.TrimLeft(f, "-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// tokenSet drops stop words and single characters.
func tokenSet(ws []string) map[string]bool {
	set := make(map[string]bool, len(ws))
	for _, w := range ws {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		set[w] = true
	}
	return set
}

type vocabulary struct {
	single  map[string]bool
	phrases []string
}

func newVocabulary(terms []string) vocabulary {
	v := vocabulary{single: make(map[string]bool)}
	for _, term := range terms {
		ws := words(clean(term))
		switch len(ws) {
		case 0:
		case 1:
			v.single[ws[0]] = true
		default:
			v.phrases = append(v.phrases, strings.Join(ws, " "))
		}
	}
	return v
}

// skills returns the vocabulary terms present in ws.
func (v vocabulary) skills(ws []string) map[string]bool {
	found := make(map[string]bool)
	for _, w := range ws {
		if v.single[w] {
			found[w] = true
		}
	}
	joined := " " + strings.Join(ws, " ") + " "
	for _, p := range v.phrases {
		if strings.Contains(joined, " "+p+" ") {
			found[p] = true
		}
	}
	return found
}
