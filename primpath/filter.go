package primpath

// MoreResults is appended by Filter when matches beyond the cap were dropped.
const MoreResults = "..."

// Filter returns the paths matching m in input order. When limit > 0 and
// more than limit paths match, only the first limit are returned, followed
// by MoreResults.
func (m *Matcher) Filter(paths []string, limit int) []string {
	var out []string
	for _, p := range paths {
		if !m.Match(p) {
			continue
		}
		if limit > 0 && len(out) == limit {
			return append(out, MoreResults)
		}
		out = append(out, p)
	}
	return out
}

// Filter compiles pattern and filters paths with it.
func Filter(pattern string, paths []string, limit int) ([]string, error) {
	m, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	return m.Filter(paths, limit), nil
}
