package catalog

import "strings"

// ResolveTable finds a table for a possibly inexact name: exact match first,
// then singular/plural variants, then fuzzy matching within an edit-distance
// cutoff scaled to the name length.
func (s *Snapshot) ResolveTable(name string) (TableInfo, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return TableInfo{}, false
	}
	if table, ok := s.Table(name); ok {
		return table, true
	}
	for _, variant := range nameVariants(name) {
		if table, ok := s.Table(variant); ok {
			return table, true
		}
	}
	if best, ok := closestName(name, s.TableNames()); ok {
		table, _ := s.Table(best)
		return table, true
	}
	return TableInfo{}, false
}

// ResolveColumn finds a column for a possibly inexact name within one table.
func (t TableInfo) ResolveColumn(name string) (ColumnInfo, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ColumnInfo{}, false
	}
	if col, ok := t.Column(name); ok {
		return col, true
	}
	if best, ok := closestName(name, t.ColumnNames()); ok {
		col, _ := t.Column(best)
		return col, true
	}
	return ColumnInfo{}, false
}

// ClosestTable suggests the nearest valid table name for error messages.
func (s *Snapshot) ClosestTable(name string) (string, bool) {
	return closestName(strings.ToLower(strings.TrimSpace(name)), s.TableNames())
}

// ClosestColumn suggests the nearest valid column name within a table.
func (s *Snapshot) ClosestColumn(table, name string) (string, bool) {
	info, ok := s.Table(table)
	if !ok {
		return "", false
	}
	return closestName(strings.ToLower(strings.TrimSpace(name)), info.ColumnNames())
}

func nameVariants(name string) []string {
	variants := make([]string, 0, 3)
	if strings.HasSuffix(name, "es") {
		variants = append(variants, strings.TrimSuffix(name, "es"))
	}
	if strings.HasSuffix(name, "s") {
		variants = append(variants, strings.TrimSuffix(name, "s"))
	}
	variants = append(variants, name+"s")
	return variants
}

// closestName returns the candidate with the smallest edit distance within
// the cutoff for the target's length. Ties resolve to the first candidate in
// order, which is deterministic because snapshots keep names sorted.
func closestName(target string, candidates []string) (string, bool) {
	if target == "" {
		return "", false
	}
	best := ""
	bestDistance := -1
	for _, candidate := range candidates {
		lowered := strings.ToLower(candidate)
		if len(target) >= 3 && (strings.Contains(lowered, target) || strings.Contains(target, lowered)) {
			return candidate, true
		}
		distance := editDistance(target, lowered)
		if distance > editCutoff(len(target)) {
			continue
		}
		if bestDistance < 0 || distance < bestDistance {
			best = candidate
			bestDistance = distance
		}
	}
	return best, bestDistance >= 0
}

func editCutoff(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
