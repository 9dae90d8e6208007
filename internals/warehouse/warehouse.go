// Package warehouse talks to ClickHouse: it lists the schema of the current
// database and runs read-only queries whose rows are kept in the result-set
// cache.
package warehouse

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const PreviewRows = 5

var ErrNotSelect = errors.New("only SELECT queries are allowed")

var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\b`)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Secure   bool
	CACert   string
	RowLimit int
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

type QueryResult struct {
	SQL      string            `json:"-"`
	RowCount int               `json:"row_count"`
	Columns  []string          `json:"columns"`
	Dtypes   map[string]string `json:"dtypes"`
	Preview  []map[string]any  `json:"preview"`
	ResultID string            `json:"result_id"`
}

// QueryError carries the statement that was actually sent, after guarding.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// ResultSaver persists full query results and returns their handle.
type ResultSaver interface {
	Save(sql string, columns []string, types map[string]string, rows [][]any) (string, error)
}

type Client struct {
	conn     driver.Conn
	results  ResultSaver
	rowLimit int
	log      *slog.Logger
}

func Open(ctx context.Context, cfg Config, results ResultSaver, log *slog.Logger) (*Client, error) {
	opts := &clickhouse.Options{
		Protocol: clickhouse.HTTP,
		Addr:     []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 30 * time.Second,
		ReadTimeout: 5 * time.Minute,
	}
	if cfg.Secure {
		tlsCfg, err := tlsConfig(cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts.TLS = tlsCfg
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse %s: %w", opts.Addr[0], err)
	}
	log.Info("clickhouse connected", "addr", opts.Addr[0], "database", cfg.Database)

	return &Client{conn: conn, results: results, rowLimit: cfg.RowLimit, log: log}, nil
}

func tlsConfig(caCert string) (*tls.Config, error) {
	if caCert == "" {
		// Managed ClickHouse endpoints are reached without a pinned CA.
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	pem, err := os.ReadFile(caCert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caCert)
	}
	return &tls.Config{RootCAs: pool}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ListTables returns every table of the current database with its columns in
// declaration order.
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT table, name, type
		FROM system.columns
		WHERE database = currentDatabase()
		ORDER BY table, position`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	index := map[string]int{}
	for rows.Next() {
		var table, name, typ string
		if err := rows.Scan(&table, &name, &typ); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[table]
		if !ok {
			i = len(tables)
			index[table] = i
			tables = append(tables, Table{Table: table})
		}
		tables[i].Columns = append(tables[i].Columns, Column{Name: name, Type: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// Query guards and runs sql, persists every row and returns the metadata and
// a short preview.
func (c *Client) Query(ctx context.Context, sql string) (*QueryResult, error) {
	guarded, err := GuardSQL(sql, c.rowLimit)
	if err != nil {
		return nil, &QueryError{SQL: strings.TrimSpace(sql), Err: err}
	}

	start := time.Now()
	rows, err := c.conn.Query(ctx, guarded)
	if err != nil {
		return nil, &QueryError{SQL: guarded, Err: err}
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()
	dtypes := make(map[string]string, len(columns))
	for i, ct := range types {
		dtypes[columns[i]] = ct.DatabaseTypeName()
	}

	var data [][]any
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{SQL: guarded, Err: fmt.Errorf("scan row: %w", err)}
		}
		row := make([]any, len(dest))
		for i, v := range dest {
			row[i] = Normalize(reflect.ValueOf(v).Elem().Interface())
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: guarded, Err: err}
	}

	id, err := c.results.Save(guarded, columns, dtypes, data)
	if err != nil {
		return nil, &QueryError{SQL: guarded, Err: err}
	}
	c.log.Debug("query finished", "rows", len(data), "result_id", id, "took", time.Since(start))

	return &QueryResult{
		SQL:      guarded,
		RowCount: len(data),
		Columns:  columns,
		Dtypes:   dtypes,
		Preview:  preview(columns, data),
		ResultID: id,
	}, nil
}

// GuardSQL accepts a single SELECT statement and appends LIMIT limit when the
// statement has none.
func GuardSQL(sql string, limit int) (string, error) {
	s := strings.TrimSpace(sql)
	s = strings.TrimSpace(strings.TrimRight(s, "; \t\n"))
	if !strings.HasPrefix(strings.ToUpper(s), "SELECT") {
		return "", ErrNotSelect
	}
	if strings.Contains(s, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrNotSelect)
	}
	if limit > 0 && !limitPattern.MatchString(s) {
		s = fmt.Sprintf("%s LIMIT %d", s, limit)
	}
	return s, nil
}

func preview(columns []string, rows [][]any) []map[string]any {
	n := min(len(rows), PreviewRows)
	out := make([]map[string]any, 0, n)
	for _, row := range rows[:n] {
		rec := make(map[string]any, len(columns))
		for i, col := range columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}
