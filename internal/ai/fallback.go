package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/logger"
	"github.com/programmerrush/InsightDB-api/internal/schemactx"
)

// NoDatabaseReply is the guidance given when no connection is attached.
const NoDatabaseReply = "I'd love to help! To provide data-specific insights, please connect to a database first. I can assist with:\n\n" +
	"• Schema exploration\n" +
	"• SQL query generation\n" +
	"• Data quality analysis\n" +
	"• Trend identification\n\n" +
	"Connect a database and ask me anything!"

const (
	sqlHelpReply = "I can help you write SQL queries! Here's an example based on your request:\n\n" +
		"```sql\nSELECT * FROM your_table\nWHERE condition = 'value'\nORDER BY created_at DESC\nLIMIT 10;\n```\n\n" +
		"Tell me more about what data you need, and I'll customize this for your schema."

	trendsReply = "To analyze trends, I need to know:\n\n" +
		"1. Which **table** contains your data?\n" +
		"2. Which **date column** to use for the time axis?\n" +
		"3. Which **value column** to aggregate?\n\n" +
		"For example: \"Show me monthly trends from the orders table using created_at and total_amount\""

	defaultReply = "I'm your InsightDB data assistant. I can help you:\n\n" +
		"• **Explore schemas**: \"Show me all tables\"\n" +
		"• **Analyze data**: \"What columns are in orders?\"\n" +
		"• **Write SQL**: \"Write a query for top customers\"\n" +
		"• **Get insights**: \"Show trends for sales data\"\n\n" +
		"What would you like to know about your database?"
)

var (
	reColumnsOf = regexp.MustCompile(`(?i)(?:for|of|in|from)\s+(\w+)`)
	reCountIn   = regexp.MustCompile(`(?i)(?:in|from|for)\s+(\w+)`)
)

// Fallback answers text from the sampled schema alone. It never touches the
// database and never fails. sc is nil when no connection is attached.
func Fallback(text string, sc *schemactx.Context) string {
	if sc == nil {
		return NoDatabaseReply
	}
	if sc.Err != nil {
		return issueReply(sc.Err)
	}

	msg := strings.ToLower(text)

	if strings.Contains(msg, "table") && containsAny(msg, "list", "show", "what") {
		return listTablesReply(sc)
	}

	if containsAny(msg, "column", "schema", "structure") {
		if m := reColumnsOf.FindStringSubmatch(text); m != nil {
			return columnsReply(sc, m[1])
		}
	}

	if containsAny(msg, "count", "how many", "total") {
		if m := reCountIn.FindStringSubmatch(text); m != nil {
			return countReply(sc, m[1])
		}
	}

	if containsAny(msg, "query", "sql", "select", "write") {
		return sqlHelpReply
	}

	if containsAny(msg, "trend", "sales", "growth", "revenue") {
		return trendsReply
	}

	return defaultReply
}

func issueReply(err error) string {
	return fmt.Sprintf("I encountered an issue while analyzing your data: %s. Could you try rephrasing your question?",
		logger.Mask(err.Error()))
}

func listTablesReply(sc *schemactx.Context) string {
	if len(sc.Tables) == 0 {
		return "I couldn't find any tables in your database."
	}

	lines := make([]string, len(sc.Tables))
	for i, t := range sc.Tables {
		rows := "?"
		if t.EstimatedRows > 0 {
			rows = fmt.Sprint(t.EstimatedRows)
		}
		lines[i] = fmt.Sprintf("• **%s** (%s rows, %s)", t.Name, rows, t.Size)
	}

	var more string
	if sc.TableCount > len(sc.Tables) {
		more = fmt.Sprintf("\n\n…and %d more.", sc.TableCount-len(sc.Tables))
	}
	return "Here are the tables in your database:\n\n" + strings.Join(lines, "\n") + more +
		"\n\nWould you like me to analyze any specific table?"
}

func columnsReply(sc *schemactx.Context, name string) string {
	t, ok := sc.Table(name)
	if !ok {
		return fmt.Sprintf("I couldn't find a table named %q. Please check the table name and try again.", name)
	}
	if len(t.Columns) == 0 {
		return fmt.Sprintf("I don't have the column details for **%s** at hand. Open it in the schema explorer to see its structure.", t.Name)
	}

	lines := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		line := fmt.Sprintf("• **%s** (%s)", c.Name, c.DataType)
		if c.KeyRole != database.KeyNone {
			line += fmt.Sprintf(" [%s]", c.KeyRole)
		}
		lines[i] = line
	}
	return fmt.Sprintf("Schema for **%s**:\n\n%s", t.Name, strings.Join(lines, "\n"))
}

func countReply(sc *schemactx.Context, name string) string {
	t, ok := sc.Table(name)
	if !ok {
		return fmt.Sprintf("I couldn't count rows in %q: no table with that name was found.", name)
	}
	return fmt.Sprintf("The **%s** table has approximately **%d** rows.", t.Name, t.EstimatedRows)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
