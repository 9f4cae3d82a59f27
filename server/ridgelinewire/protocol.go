package ridgelinewire

import (
	"fmt"

	"github.com/nmarchenko/ridgeline/internal/sql/parser"
)

// StatementEnvelope is a JSON-serializable stand-in for parser.Statement.
// parser.Expr is an interface, so a statement carrying one (INSERT,
// UPDATE, DELETE, SELECT, EXPLAIN) cannot round-trip through encoding/json
// without a concrete type to decode into; those statements are only
// reachable by calling engine.Database.Execute directly (as the test
// suite does), never over this wire. The envelope covers exactly the
// statements cmd/client's shell meta-commands build: CREATE TABLE,
// DROP TABLE, SHOW TABLE, ANALYZE, STATS, and EXIT.
type StatementEnvelope struct {
	Kind string `json:"kind"`

	CreateTable *parser.CreateTableStmt `json:"create_table,omitempty"`
	DropTable   *parser.DropTableStmt   `json:"drop_table,omitempty"`
	Analyze     *parser.AnalyzeStmt     `json:"analyze,omitempty"`
	Stats       *parser.StatsStmt       `json:"stats,omitempty"`
}

const (
	kindCreateTable = "create_table"
	kindDropTable   = "drop_table"
	kindShowTable   = "show_table"
	kindAnalyze     = "analyze"
	kindStats       = "stats"
	kindExit        = "exit"
)

// Envelope wraps s for the wire, or reports that s's kind isn't one this
// protocol carries.
func Envelope(s parser.Statement) (StatementEnvelope, error) {
	switch v := s.(type) {
	case *parser.CreateTableStmt:
		return StatementEnvelope{Kind: kindCreateTable, CreateTable: v}, nil
	case *parser.DropTableStmt:
		return StatementEnvelope{Kind: kindDropTable, DropTable: v}, nil
	case *parser.ShowTableStmt:
		return StatementEnvelope{Kind: kindShowTable}, nil
	case *parser.AnalyzeStmt:
		return StatementEnvelope{Kind: kindAnalyze, Analyze: v}, nil
	case *parser.StatsStmt:
		return StatementEnvelope{Kind: kindStats, Stats: v}, nil
	case *parser.ExitStmt:
		return StatementEnvelope{Kind: kindExit}, nil
	default:
		return StatementEnvelope{}, fmt.Errorf("ridgelinewire: statement type %T carries expressions this wire protocol cannot marshal; call engine.Database.Execute directly instead", s)
	}
}

// ToStatement recovers the parser.Statement an envelope carries.
func (e StatementEnvelope) ToStatement() (parser.Statement, error) {
	switch e.Kind {
	case kindCreateTable:
		if e.CreateTable == nil {
			return nil, fmt.Errorf("ridgelinewire: create_table envelope missing body")
		}
		return e.CreateTable, nil
	case kindDropTable:
		if e.DropTable == nil {
			return nil, fmt.Errorf("ridgelinewire: drop_table envelope missing body")
		}
		return e.DropTable, nil
	case kindShowTable:
		return &parser.ShowTableStmt{}, nil
	case kindAnalyze:
		if e.Analyze == nil {
			return nil, fmt.Errorf("ridgelinewire: analyze envelope missing body")
		}
		return e.Analyze, nil
	case kindStats:
		if e.Stats == nil {
			return nil, fmt.Errorf("ridgelinewire: stats envelope missing body")
		}
		return e.Stats, nil
	case kindExit:
		return &parser.ExitStmt{}, nil
	default:
		return nil, fmt.Errorf("ridgelinewire: unknown statement kind %q", e.Kind)
	}
}

// ExecuteRequest is one client->server frame.
type ExecuteRequest struct {
	ID        uint64            `json:"id"`
	Statement StatementEnvelope `json:"statement"`
}

// ExecuteResponse is one server->client frame, mirroring engine.Result's
// fields directly.
type ExecuteResponse struct {
	ID       uint64   `json:"id"`
	Columns  []string `json:"columns,omitempty"`
	Rows     [][]any  `json:"rows,omitempty"`
	Affected int64    `json:"affected,omitempty"`
	Message  string   `json:"message,omitempty"`
	Exit     bool     `json:"exit,omitempty"`
	Error    string   `json:"error,omitempty"`
}
