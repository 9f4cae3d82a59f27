// Command client is a readline-backed shell speaking the ridgelinewire
// protocol. The SQL tokenizer/parser is an external collaborator out of
// scope for this engine, and the wire protocol only carries
// the subset of statements that have no embedded Expr to marshal
// (server/ridgelinewire/protocol.go); accordingly this shell only knows
// how to build those: CREATE TABLE, DROP TABLE, SHOW TABLE, ANALYZE,
// STATS, and EXIT. It is not a general SQL client; SELECT/INSERT/
// UPDATE/DELETE/EXPLAIN require calling engine.Database.Execute
// in-process (as the test suite does), not this wire.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/nmarchenko/ridgeline/internal/sql/parser"
	"github.com/nmarchenko/ridgeline/server/ridgelinewire"
)

// ---- TCP client (sync) ----

type client struct {
	conn net.Conn
	mu   sync.Mutex
	id   atomic.Uint64
}

func dial(addr string, timeout time.Duration) (*client, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: c}, nil
}

func (c *client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *client) exec(stmt parser.Statement) (*ridgelinewire.ExecuteResponse, error) {
	env, err := ridgelinewire.Envelope(stmt)
	if err != nil {
		return nil, err
	}

	reqID := c.id.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	req := ridgelinewire.ExecuteRequest{ID: reqID, Statement: env}
	if err := ridgelinewire.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}

	var resp ridgelinewire.ExecuteResponse
	if err := ridgelinewire.ReadFrame(c.conn, &resp); err != nil {
		return nil, err
	}
	if resp.ID != reqID {
		return nil, fmt.Errorf("ridgeline: response id mismatch: got=%d want=%d", resp.ID, reqID)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// ---- History (own file) ----

type history struct {
	path  string
	lines []string
}

func newHistory(path string) *history {
	return &history{path: path}
}

func (h *history) Load(max int) error {
	if h.path == "" {
		return nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		h.lines = append(h.lines, s)
		if max > 0 && len(h.lines) > max {
			h.lines = h.lines[len(h.lines)-max:]
		}
	}
	return sc.Err()
}

func (h *history) Append(stmt string) error {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" || h.path == "" {
		return nil
	}
	stmt = compactOneLine(stmt)

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, stmt); err != nil {
		return err
	}
	h.lines = append(h.lines, stmt)
	return nil
}

func (h *history) Print(last int) {
	if last <= 0 || last > len(h.lines) {
		last = len(h.lines)
	}
	start := len(h.lines) - last
	if start < 0 {
		start = 0
	}
	for i := start; i < len(h.lines); i++ {
		fmt.Printf("%5d  %s\n", i+1, h.lines[i])
	}
}

func compactOneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ---- shell helpers ----

// statementComplete reports whether buf has a terminating ';' outside
// single quotes.
func statementComplete(buf string) bool {
	inQuote := false
	escaped := false
	for _, r := range buf {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '\'' {
			inQuote = !inQuote
			continue
		}
		if r == ';' && !inQuote {
			return true
		}
	}
	return false
}

func isMetaCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "\\") || line == "quit" || line == "exit"
}

func printResponse(resp *ridgelinewire.ExecuteResponse) {
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if len(resp.Columns) == 0 {
		if resp.Message == "" {
			fmt.Printf("OK (%d affected)\n", resp.Affected)
		}
		return
	}

	cols := resp.Columns
	rows := resp.Rows

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range cols {
			var s string
			if i < len(row) && row[i] != nil {
				s = fmt.Sprintf("%v", row[i])
			} else {
				s = "NULL"
			}
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	printRow := func(values []string) {
		for i := range cols {
			if i > 0 {
				fmt.Print(" | ")
			}
			fmt.Print(padRight(values[i], widths[i]))
		}
		fmt.Println()
	}

	hdr := make([]string, len(cols))
	copy(hdr, cols)
	printRow(hdr)

	for i := range cols {
		if i > 0 {
			fmt.Print("-+-")
		}
		fmt.Print(strings.Repeat("-", widths[i]))
	}
	fmt.Println()

	for _, row := range rows {
		out := make([]string, len(cols))
		for i := range cols {
			if i < len(row) && row[i] != nil {
				out[i] = fmt.Sprintf("%v", row[i])
			} else {
				out[i] = "NULL"
			}
		}
		printRow(out)
	}

	fmt.Printf("(%d rows)\n", len(rows))
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".ridgeline_history"
	}
	return filepath.Join(home, ".ridgeline_history")
}

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:6543", "server address")
		timeout    = flag.Duration("timeout", 3*time.Second, "dial timeout")
		histPath   = flag.String("history", defaultHistoryPath(), "history file path")
		histMax    = flag.Int("history-max", 2000, "max history lines loaded into memory")
		oneShotSQL = flag.String("c", "", "execute one statement and exit (must end with ';')")
	)
	flag.Parse()

	cli, err := dial(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = cli.Close() }()

	if strings.TrimSpace(*oneShotSQL) != "" {
		if err := runStatement(cli, *oneShotSQL); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	h := newHistory(*histPath)
	_ = h.Load(*histMax)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ridgeline> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range h.lines {
		_ = rl.SaveHistory(line)
	}

	var buf strings.Builder

	fmt.Printf("connected to %s\n", *addr)
	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if buf.Len() > 0 {
				buf.Reset()
				rl.SetPrompt("ridgeline> ")
				continue
			}
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if isMetaCommand(line) {
			switch line {
			case "\\q", "quit", "exit":
				return
			case "\\help":
				fmt.Println(`meta commands:
  \q | quit | exit       quit
  \history               print history
  \help                  show help

statements (end with ';'):
  CREATE TABLE t(col type [auto_increment] [primary key] [foreign key references t2(col)], ...);
  DROP TABLE t;
  SHOW TABLE;
  ANALYZE t;
  STATS t;
  EXIT;

note: SELECT/INSERT/UPDATE/DELETE/EXPLAIN carry expressions this wire
protocol cannot marshal (server/ridgelinewire/protocol.go); run those
against an embedded engine.Database instead.`)
			case "\\history":
				h.Print(50)
			default:
				fmt.Printf("unknown command: %s\n", line)
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(line)

		if !statementComplete(buf.String()) {
			rl.SetPrompt("...> ")
			continue
		}

		stmtText := strings.TrimSpace(buf.String())
		buf.Reset()
		rl.SetPrompt("ridgeline> ")

		_ = h.Append(stmtText)
		_ = rl.SaveHistory(compactOneLine(stmtText))

		if err := runStatement(cli, stmtText); err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
	}
}

func runStatement(cli *client, text string) error {
	stmt, err := parseShellStatement(text)
	if err != nil {
		return err
	}
	resp, err := cli.exec(stmt)
	if err != nil {
		return err
	}
	printResponse(resp)
	if resp.Exit {
		os.Exit(0)
	}
	return nil
}

// ---- minimal line parser for the wire-safe statement subset ----
//
// This is not a SQL tokenizer; a real one is an external collaborator
// producing the parser.* AST. It understands exactly the
// statement shapes ridgelinewire.Envelope can carry (protocol.go):
// no expressions, so no WHERE/SELECT-list grammar at all.

func parseShellStatement(text string) (parser.Statement, error) {
	text = strings.TrimSuffix(strings.TrimSpace(text), ";")
	upper := strings.ToUpper(text)

	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return parseCreateTable(text)
	case strings.HasPrefix(upper, "DROP TABLE"):
		return parseDropTable(text)
	case upper == "SHOW TABLE" || upper == "SHOW TABLES":
		return &parser.ShowTableStmt{}, nil
	case strings.HasPrefix(upper, "ANALYZE"):
		return &parser.AnalyzeStmt{TableName: strings.TrimSpace(text[len("ANALYZE"):])}, nil
	case strings.HasPrefix(upper, "STATS"):
		return &parser.StatsStmt{TableName: strings.TrimSpace(text[len("STATS"):])}, nil
	case upper == "EXIT":
		return &parser.ExitStmt{}, nil
	default:
		return nil, fmt.Errorf("this shell only parses CREATE TABLE/DROP TABLE/SHOW TABLE/ANALYZE/STATS/EXIT (SELECT/INSERT/UPDATE/DELETE need an embedded engine.Database)")
	}
}

func parseDropTable(text string) (*parser.DropTableStmt, error) {
	rest := strings.TrimSpace(text[len("DROP TABLE"):])
	name := strings.Fields(rest)
	if len(name) != 1 {
		return nil, fmt.Errorf("usage: DROP TABLE <name>")
	}
	return &parser.DropTableStmt{TableName: name[0]}, nil
}

func parseCreateTable(text string) (*parser.CreateTableStmt, error) {
	rest := strings.TrimSpace(text[len("CREATE TABLE"):])
	open := strings.IndexByte(rest, '(')
	closeParen := strings.LastIndexByte(rest, ')')
	if open < 0 || closeParen < 0 || closeParen < open {
		return nil, fmt.Errorf("usage: CREATE TABLE name(col type [auto_increment] [primary key] [foreign key references t2(col)], ...)")
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return nil, fmt.Errorf("CREATE TABLE: missing table name")
	}
	body := rest[open+1 : closeParen]

	cols, err := splitTopLevelCommas(body)
	if err != nil {
		return nil, err
	}

	stmt := &parser.CreateTableStmt{TableName: name}
	for _, c := range cols {
		col, err := parseColumnDef(strings.TrimSpace(c))
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
	}
	return stmt, nil
}

// splitTopLevelCommas splits s on commas that are not nested inside
// parentheses (so "int32, a char(16)" keeps char(16) intact).
func splitTopLevelCommas(s string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in column list")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in column list")
	}
	parts = append(parts, s[start:])
	return parts, nil
}

func parseColumnDef(s string) (parser.ColumnDef, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return parser.ColumnDef{}, fmt.Errorf("bad column definition %q", s)
	}
	col := parser.ColumnDef{Name: fields[0]}

	typeName, size, err := parseTypeToken(fields[1])
	if err != nil {
		return parser.ColumnDef{}, err
	}
	col.Type = typeName
	col.Size = size

	for i := 2; i < len(fields); i++ {
		word := strings.ToUpper(fields[i])
		switch word {
		case "AUTO_INCREMENT":
			col.AutoIncrement = true
		case "PRIMARY":
			if i+1 < len(fields) && strings.ToUpper(fields[i+1]) == "KEY" {
				col.PrimaryKey = true
				i++
			}
		case "FOREIGN":
			if i+3 < len(fields) && strings.ToUpper(fields[i+1]) == "KEY" && strings.ToUpper(fields[i+2]) == "REFERENCES" {
				ref, err := parseForeignKeyRef(fields[i+3])
				if err != nil {
					return parser.ColumnDef{}, err
				}
				col.References = ref
				i += 3
			} else {
				return parser.ColumnDef{}, fmt.Errorf("bad FOREIGN KEY clause in %q", s)
			}
		default:
			return parser.ColumnDef{}, fmt.Errorf("unrecognized column clause %q in %q", fields[i], s)
		}
	}
	return col, nil
}

func parseTypeToken(tok string) (string, int, error) {
	open := strings.IndexByte(tok, '(')
	if open < 0 {
		switch strings.ToLower(tok) {
		case "int32", "int64", "float64":
			return strings.ToLower(tok), 0, nil
		default:
			return "", 0, fmt.Errorf("unknown type %q (char/varchar need a size, e.g. char(16))", tok)
		}
	}
	if !strings.HasSuffix(tok, ")") {
		return "", 0, fmt.Errorf("bad type token %q", tok)
	}
	base := strings.ToLower(tok[:open])
	if base != "char" && base != "varchar" {
		return "", 0, fmt.Errorf("type %q does not take a size", base)
	}
	n, err := strconv.Atoi(tok[open+1 : len(tok)-1])
	if err != nil || n <= 0 || n > 256 {
		return "", 0, fmt.Errorf("bad size in %q: size must satisfy 0 < n <= 256", tok)
	}
	return base, n, nil
}

func parseForeignKeyRef(tok string) (*parser.ForeignKeyRef, error) {
	open := strings.IndexByte(tok, '(')
	closeParen := strings.LastIndexByte(tok, ')')
	if open < 0 || closeParen < 0 || closeParen < open {
		return nil, fmt.Errorf("bad REFERENCES clause %q, want t(col)", tok)
	}
	table := tok[:open]
	col := tok[open+1 : closeParen]
	if table == "" || col == "" {
		return nil, fmt.Errorf("bad REFERENCES clause %q, want t(col)", tok)
	}
	return &parser.ForeignKeyRef{Table: table, Column: col}, nil
}
