package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dbchat/dbchat/internal/intent"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/sqlgen"
)

// Response is the payload returned for one chat message. SQLQuery carries
// the parameterized template that ran, never the bound values.
type Response struct {
	SessionID string           `json:"session_id,omitempty"`
	Answer    string           `json:"answer"`
	SQLQuery  string           `json:"sql_query,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Data      []map[string]any `json:"data,omitempty"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

const (
	answerUnknown = "I'm not sure how to process that request. Could you rephrase it?"
	answerNoTable = "I couldn't identify which table you're referring to. Please specify a table name."
)

var aggregateNouns = map[string]string{
	"COUNT": "count",
	"SUM":   "total",
	"AVG":   "average",
	"MIN":   "minimum",
	"MAX":   "maximum",
}

// Formatter renders intents and their result sets as conversational answers.
type Formatter struct{}

func (f Formatter) Format(it intent.Intent, plan sqlgen.Plan, res query.Result) Response {
	resp := Response{
		SQLQuery:  plan.SQL,
		Columns:   res.Columns,
		Data:      res.RowMaps(),
		RowCount:  res.RowCount,
		Truncated: res.Truncated,
	}

	switch it.Kind {
	case intent.KindListTables:
		resp.Answer = formatTableList(res)
	case intent.KindDescribeTable:
		resp.Answer = fmt.Sprintf("Here's the structure of the %s table:", it.Table)
	case intent.KindSelectRows:
		if res.RowCount == 0 {
			resp.Answer = fmt.Sprintf("No results found in the %s table for your query.", it.Table)
		} else {
			resp.Answer = fmt.Sprintf("Here are the results from the %s table:", it.Table)
		}
	case intent.KindAggregate:
		resp.Answer = formatAggregate(it, res)
	default:
		if it.Note != "" {
			resp.Answer = it.Note
		} else {
			resp.Answer = answerUnknown
		}
	}

	if res.Truncated {
		resp.Answer += fmt.Sprintf(" Showing the first %d rows only.", res.RowCount)
	}
	return resp
}

// FormatResolutionError renders identifier failures as guidance instead of
// errors, naming the closest match when one exists.
func (f Formatter) FormatResolutionError(err error) Response {
	var unknownTable *sqlgen.UnknownTableError
	var unknownColumn *sqlgen.UnknownColumnError
	var unsupported *sqlgen.UnsupportedAggregateError

	switch {
	case errors.As(err, &unknownTable):
		if unknownTable.Name == "" {
			return Response{Answer: answerNoTable}
		}
		answer := fmt.Sprintf("I couldn't find a table called %q in this database.", unknownTable.Name)
		if unknownTable.Suggestion != "" {
			answer += fmt.Sprintf(" Did you mean %s?", unknownTable.Suggestion)
		}
		return Response{Answer: answer}
	case errors.As(err, &unknownColumn):
		answer := fmt.Sprintf("I couldn't find a column called %q in the %s table.", unknownColumn.Name, unknownColumn.Table)
		if unknownColumn.Suggestion != "" {
			answer += fmt.Sprintf(" Did you mean %s?", unknownColumn.Suggestion)
		}
		return Response{Answer: answer}
	case errors.As(err, &unsupported):
		return Response{Answer: fmt.Sprintf("I can't calculate %s. I can count, sum, or average columns, or find their minimum and maximum.", unsupported.Func)}
	default:
		return Response{Answer: answerUnknown}
	}
}

func formatTableList(res query.Result) string {
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			names = append(names, fmt.Sprint(row[0]))
		}
	}
	if len(names) == 0 {
		return "The database has no tables."
	}
	noun := "tables"
	if len(names) == 1 {
		noun = "table"
	}
	return fmt.Sprintf("The database contains %d %s: %s.", len(names), noun, strings.Join(names, ", "))
}

func formatAggregate(it intent.Intent, res query.Result) string {
	fn := strings.ToUpper(it.Func)
	noun := aggregateNouns[fn]
	if noun == "" {
		noun = strings.ToLower(fn)
	}

	if it.GroupBy != "" {
		if it.Column == "" {
			return fmt.Sprintf("Here's the row count in the %s table for each %s:", it.Table, it.GroupBy)
		}
		return fmt.Sprintf("Here's the %s of %s in the %s table for each %s:", noun, it.Column, it.Table, it.GroupBy)
	}

	value := scalarValue(res)
	if fn == "COUNT" && it.Column == "" {
		if value == nil {
			value = 0
		}
		return fmt.Sprintf("The %s table contains %v rows.", it.Table, value)
	}
	if value == nil {
		return fmt.Sprintf("There is no data in the %s table to calculate the %s of %s.", it.Table, noun, it.Column)
	}
	return fmt.Sprintf("The %s of %s in the %s table is %v.", noun, it.Column, it.Table, value)
}

func scalarValue(res query.Result) any {
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return nil
	}
	return res.Rows[0][0]
}
