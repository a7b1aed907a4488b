package matlib

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// materialTitles adapts a material slice to fuzzy.Source.
type materialTitles []Material

func (m materialTitles) String(i int) string { return m[i].Title }
func (m materialTitles) Len() int            { return len(m) }

// searchMaterials filters mats by q. Substring matches keep catalog order;
// fuzzy matches are ordered best first.
func searchMaterials(mats []Material, q Query) []Material {
	var candidates []Material
	for _, m := range mats {
		if q.Category == "" || m.CategoryID == q.Category {
			candidates = append(candidates, m)
		}
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return candidates
	}

	if q.Fuzzy {
		matches := fuzzy.FindFrom(text, materialTitles(candidates))
		result := make([]Material, 0, len(matches))
		for _, match := range matches {
			result = append(result, candidates[match.Index])
		}
		return result
	}

	var result []Material
	for _, m := range candidates {
		if strings.Contains(strings.ToLower(m.Title), text) {
			result = append(result, m)
		}
	}
	return result
}
