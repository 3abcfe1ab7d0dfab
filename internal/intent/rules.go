package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbchat/dbchat/internal/catalog"
)

var selectKeywords = tokenSet("show", "display", "list", "get", "select", "find", "search", "query", "what", "how", "where")

var describeKeywords = tokenSet("describe", "explain", "structure", "schema")

var writeKeywords = tokenSet("add", "insert", "create", "new", "put", "update", "change", "modify", "edit", "alter", "delete", "remove", "drop", "eliminate", "truncate")

var listTablePhrases = []string{
	"list tables",
	"list all tables",
	"show tables",
	"show all tables",
	"show me the tables",
	"what tables",
	"which tables",
	"available tables",
}

// aggregatePatterns map trigger words to SQL functions. Multi-word phrases
// come first so they win over their single-word prefixes.
var aggregatePatterns = []struct {
	phrase string
	fn     string
}{
	{"how many", "COUNT"},
	{"count", "COUNT"},
	{"total", "SUM"},
	{"sum", "SUM"},
	{"average", "AVG"},
	{"avg", "AVG"},
	{"mean", "AVG"},
	{"minimum", "MIN"},
	{"lowest", "MIN"},
	{"smallest", "MIN"},
	{"min", "MIN"},
	{"maximum", "MAX"},
	{"highest", "MAX"},
	{"largest", "MAX"},
	{"max", "MAX"},
}

var stopTokens = tokenSet(
	"the", "a", "an", "of", "in", "on", "for", "to", "from", "me", "my", "all",
	"is", "are", "was", "were", "with", "and", "or", "please", "now", "that",
	"this", "there", "their", "by", "per", "rows", "records", "entries",
	"data", "table", "more", "than", "you", "have", "do", "can",
)

// Conditions are matched against the raw utterance so values keep their case.
var (
	nonWordRe           = regexp.MustCompile(`[^\w\s]`)
	symbolicConditionRe = regexp.MustCompile(`(?i)(\w+)\s*(>=|<=|!=|=|>|<)\s*('[^']*'|"[^"]*"|[\w.-]+)`)
	wordedConditionRe   = regexp.MustCompile(`(?i)(\w+)\s+(equals|equal to|greater than|less than|not equal to|contains|like)\s+('[^']*'|"[^"]*"|[\w.-]+)`)
	// The set form requires parentheses. A bare "in" is too common a
	// preposition ("customers in berlin") to treat as an operator.
	inConditionRe = regexp.MustCompile(`(?i)(\w+)\s+(?:in|is one of)\s*\(([^)]+)\)`)
	limitRe             = regexp.MustCompile(`(?:limit|top|first)\s+(\d+)`)
	moreRe              = regexp.MustCompile(`(\d+)\s+more`)
	groupByRe           = regexp.MustCompile(`(?:by|per)\s+(\w+)`)
)

var wordedOps = map[string]Op{
	"equals":       OpEq,
	"equal to":     OpEq,
	"greater than": OpGt,
	"less than":    OpLt,
	"not equal to": OpNotEq,
	"contains":     OpLike,
	"like":         OpLike,
}

const writeRefusalNote = "I can only read data, so I can't add, update, or delete anything. Try asking me to show or describe a table instead."

// RuleParser classifies utterances with ordered keyword and phrase rules,
// checking the most specific patterns first.
type RuleParser struct{}

func NewRuleParser() *RuleParser { return &RuleParser{} }

func (p *RuleParser) Parse(_ context.Context, utterance string, snap *catalog.Snapshot, conv Context) (Intent, error) {
	parsed := Intent{Kind: KindUnknown, Raw: utterance}
	raw := strings.TrimSpace(utterance)
	lowered := strings.ToLower(raw)
	normalized, tokens := normalize(lowered)
	if len(tokens) == 0 {
		return parsed, nil
	}

	if isListTablesRequest(normalized, tokens) {
		parsed.Kind = KindListTables
		return parsed, nil
	}

	kind, fn, note := detectKind(normalized, tokens)
	parsed.Kind = kind
	parsed.Func = fn
	parsed.Note = note
	if kind == KindUnknown {
		return parsed, nil
	}

	fillEntities(&parsed, raw, lowered, tokens, snap, conv)
	return parsed, nil
}

func isListTablesRequest(normalized string, tokens []string) bool {
	for _, phrase := range listTablePhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	if !hasToken(tokens, "tables") {
		return false
	}
	return hasAnyToken(tokens, selectKeywords) || hasToken(tokens, "which") || hasToken(tokens, "available")
}

func detectKind(normalized string, tokens []string) (Kind, string, string) {
	if hasAnyToken(tokens, describeKeywords) {
		return KindDescribeTable, "", ""
	}
	for _, pattern := range aggregatePatterns {
		if strings.Contains(pattern.phrase, " ") {
			if strings.Contains(normalized, pattern.phrase) {
				return KindAggregate, pattern.fn, ""
			}
			continue
		}
		if hasToken(tokens, pattern.phrase) {
			return KindAggregate, pattern.fn, ""
		}
	}
	if hasAnyToken(tokens, selectKeywords) {
		return KindSelectRows, "", ""
	}
	if hasAnyToken(tokens, writeKeywords) {
		return KindUnknown, "", writeRefusalNote
	}
	return KindUnknown, "", ""
}

// fillEntities resolves the table, columns, filters and limit for an already
// classified intent. The table falls back to the conversation's last table
// when the utterance names none, which keeps follow-ups like "now show me 10
// more" working.
func fillEntities(parsed *Intent, raw, lowered string, tokens []string, snap *catalog.Snapshot, conv Context) {
	table, tableToken := extractTable(tokens, snap)
	parsed.Table = table
	if parsed.Table == "" && conv.LastTable != "" {
		parsed.Table = conv.LastTable
	}
	if parsed.Table == "" {
		return
	}

	info, ok := snap.Table(parsed.Table)
	if !ok {
		// The remembered table no longer exists in the schema.
		parsed.Table = ""
		return
	}

	switch parsed.Kind {
	case KindSelectRows:
		parsed.Filters = extractFilters(raw, info)
		parsed.Columns = extractColumns(tokens, info, tableToken)
		parsed.Limit = extractLimit(lowered)
		if len(parsed.Filters) == 0 && hasToken(tokens, "more") {
			parsed.Filters = append(parsed.Filters, conv.LastFilters...)
		}
	case KindAggregate:
		parsed.Filters = extractFilters(raw, info)
		groupColumn, groupToken := extractGroupBy(lowered, info)
		parsed.GroupBy = groupColumn
		parsed.Column = extractAggregateColumn(tokens, info, tableToken, groupToken)
		parsed.Limit = extractLimit(lowered)
	}
}

// extractTable returns the first token that resolves against the snapshot,
// along with the token itself so later passes can skip it.
func extractTable(tokens []string, snap *catalog.Snapshot) (string, string) {
	for _, token := range tokens {
		if len(token) < 3 {
			continue
		}
		if _, reserved := reservedTokens[token]; reserved {
			continue
		}
		if table, ok := snap.ResolveTable(token); ok {
			return table.Name, token
		}
	}
	return "", ""
}

func extractColumns(tokens []string, table catalog.TableInfo, tableToken string) []string {
	columns := make([]string, 0, 2)
	seen := make(map[string]struct{})
	for _, token := range tokens {
		if token == tableToken || len(token) < 3 {
			continue
		}
		if _, reserved := reservedTokens[token]; reserved {
			continue
		}
		name, ok := matchColumn(table, token)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		columns = append(columns, name)
	}
	return columns
}

// matchColumn accepts exact and substring hits only. Edit-distance matching
// is reserved for explicit column references in filters, where a stray token
// cannot sneak in.
func matchColumn(table catalog.TableInfo, token string) (string, bool) {
	if col, ok := table.Column(token); ok {
		return col.Name, true
	}
	for _, name := range table.ColumnNames() {
		if strings.Contains(strings.ToLower(name), token) {
			return name, true
		}
	}
	return "", false
}

func extractFilters(raw string, table catalog.TableInfo) []Filter {
	filters := make([]Filter, 0, 2)
	seen := make(map[string]struct{})
	for _, match := range symbolicConditionRe.FindAllStringSubmatch(raw, -1) {
		appendFilter(&filters, seen, table, match[1], Op(match[2]), match[3])
	}
	for _, match := range wordedConditionRe.FindAllStringSubmatch(raw, -1) {
		op, ok := wordedOps[strings.ToLower(match[2])]
		if !ok {
			continue
		}
		appendFilter(&filters, seen, table, match[1], op, match[3])
	}
	for _, match := range inConditionRe.FindAllStringSubmatch(raw, -1) {
		appendInFilter(&filters, seen, table, match[1], splitSetValues(match[2]))
	}
	return filters
}

func appendFilter(filters *[]Filter, seen map[string]struct{}, table catalog.TableInfo, column string, op Op, value string) {
	column = strings.ToLower(column)
	value = strings.Trim(value, `'"`)
	if col, ok := table.ResolveColumn(column); ok {
		column = col.Name
	}
	key := column + string(op) + value
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	*filters = append(*filters, Filter{Column: column, Op: op, Value: value})
}

func appendInFilter(filters *[]Filter, seen map[string]struct{}, table catalog.TableInfo, column string, values []string) {
	if len(values) == 0 {
		return
	}
	column = strings.ToLower(column)
	if col, ok := table.ResolveColumn(column); ok {
		column = col.Name
	}
	key := column + string(OpIn) + strings.Join(values, ",")
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	*filters = append(*filters, Filter{Column: column, Op: OpIn, Values: values})
}

func splitSetValues(list string) []string {
	parts := strings.Split(list, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}

func extractLimit(lowered string) int {
	if match := limitRe.FindStringSubmatch(lowered); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			return n
		}
	}
	if match := moreRe.FindStringSubmatch(lowered); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			return n
		}
	}
	return 0
}

func extractAggregateColumn(tokens []string, table catalog.TableInfo, tableToken, groupToken string) string {
	for _, token := range tokens {
		if token == tableToken || token == groupToken || len(token) < 3 {
			continue
		}
		if _, reserved := reservedTokens[token]; reserved {
			continue
		}
		if name, ok := matchColumn(table, token); ok {
			return name
		}
	}
	return ""
}

func extractGroupBy(lowered string, table catalog.TableInfo) (string, string) {
	match := groupByRe.FindStringSubmatch(lowered)
	if match == nil {
		return "", ""
	}
	if col, ok := table.ResolveColumn(match[1]); ok {
		return col.Name, match[1]
	}
	return "", ""
}

func normalize(lowered string) (string, []string) {
	cleaned := nonWordRe.ReplaceAllString(lowered, " ")
	tokens := strings.Fields(cleaned)
	return strings.Join(tokens, " "), tokens
}

func hasToken(tokens []string, want string) bool {
	for _, token := range tokens {
		if token == want {
			return true
		}
	}
	return false
}

func hasAnyToken(tokens []string, set map[string]struct{}) bool {
	for _, token := range tokens {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

func tokenSet(tokens ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

var reservedTokens = func() map[string]struct{} {
	merged := make(map[string]struct{})
	for _, set := range []map[string]struct{}{selectKeywords, describeKeywords, writeKeywords, stopTokens} {
		for token := range set {
			merged[token] = struct{}{}
		}
	}
	for _, pattern := range aggregatePatterns {
		for _, word := range strings.Fields(pattern.phrase) {
			merged[word] = struct{}{}
		}
	}
	return merged
}()
