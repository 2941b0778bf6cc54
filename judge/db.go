package judge

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"
)

const (
	sqliteDriverName   = "sqlite3"
	mysqlDriverName    = "mysql"
	postgresDriverName = "pgx"
	oracleDriverName   = "godror"
)

// ResultSet is the output of one statement. Values are compared by value
// and type: an integer count never equals a numeric string.
type ResultSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Equal reports whether both sets hold the same rows in the same order.
// Column names are not compared.
func (rs *ResultSet) Equal(other *ResultSet) bool {
	if len(rs.Rows) != len(other.Rows) {
		return false
	}
	for i := range rs.Rows {
		if len(rs.Rows[i]) != len(other.Rows[i]) {
			return false
		}
		for j := range rs.Rows[i] {
			if !valuesEqual(rs.Rows[i][j], other.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// QueryError is a statement the engine refused to execute.
type QueryError struct {
	Statement string
	Message   string
}

func (e *QueryError) Error() string {
	return e.Message
}

// Engine executes SQL statements against one database.
type Engine interface {
	Execute(ctx context.Context, stmt string) (*ResultSet, error)
	Close() error
}

type sqlEngine struct {
	db       *sqlx.DB
	describe func(error) string
}

func (e *sqlEngine) Execute(ctx context.Context, stmt string) (*ResultSet, error) {
	query := prepareStatement(stmt)
	if query == "" {
		return nil, &QueryError{Statement: stmt, Message: "empty statement"}
	}

	rows, err := e.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Statement: stmt, Message: e.describe(err)}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Statement: stmt, Message: e.describe(err)}
	}

	rs := &ResultSet{Columns: cols, Rows: [][]interface{}{}}
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return nil, &QueryError{Statement: stmt, Message: e.describe(err)}
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Statement: stmt, Message: e.describe(err)}
	}
	return rs, nil
}

func (e *sqlEngine) Close() error {
	return e.db.Close()
}

func connectDB(ctx context.Context, driverName, dataSourceName string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connector opens an engine for one database technology.
type connector interface {
	open(ctx context.Context, o Options) (Engine, error)
}

// uploadCapable is implemented by connectors whose graders receive artifact
// credentials and upload correct results.
type uploadCapable interface {
	connector
	uploadsArtifacts()
}

// backend describes how to reach one database technology over sqlx.
type backend struct {
	driver   string
	dsn      func(o Options) (string, error)
	describe func(err error) string
}

func (b backend) open(ctx context.Context, o Options) (Engine, error) {
	dsn, err := b.dsn(o)
	if err != nil {
		return nil, err
	}
	db, err := connectDB(ctx, b.driver, dsn)
	if err != nil {
		return nil, err
	}
	return &sqlEngine{db: db, describe: b.describe}, nil
}

// uploadingBackend is a backend whose results are uploaded as artifacts.
type uploadingBackend struct {
	backend
}

func (uploadingBackend) uploadsArtifacts() {}

func defaultBackends() map[string]connector {
	return map[string]connector{
		"sqlite": backend{
			driver:   sqliteDriverName,
			dsn:      sqliteDSN,
			describe: describeError,
		},
		"mysql": uploadingBackend{backend{
			driver:   mysqlDriverName,
			dsn:      mysqlDSN,
			describe: describeMySQLError,
		}},
		"postgres": uploadingBackend{backend{
			driver:   postgresDriverName,
			dsn:      postgresDSN,
			describe: describePostgresError,
		}},
		"oracle": uploadingBackend{backend{
			driver:   oracleDriverName,
			dsn:      oracleDSN,
			describe: describeError,
		}},
	}
}

func requireDatabase(o Options) error {
	if o.Database == "" {
		return errors.New("no database given")
	}
	return nil
}

func hostPort(host string, port, def int) string {
	if host == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = def
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// sqliteDSN opens an existing database file under data_dir read-only.
func sqliteDSN(o Options) (string, error) {
	if err := requireDatabase(o); err != nil {
		return "", err
	}
	dbPath := filepath.Join(o.DataDir, o.Database)
	if _, err := os.Stat(dbPath); err != nil {
		return "", fmt.Errorf("database does not exist: %s", dbPath)
	}
	return "file:" + dbPath + "?mode=ro", nil
}

func mysqlDSN(o Options) (string, error) {
	if err := requireDatabase(o); err != nil {
		return "", err
	}
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(o.Host, o.Port, 3306)
	cfg.DBName = o.Database
	return cfg.FormatDSN(), nil
}

func postgresDSN(o Options) (string, error) {
	if err := requireDatabase(o); err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(o.User, o.Password),
		Host:   hostPort(o.Host, o.Port, 5432),
		Path:   "/" + o.Database,
	}
	if o.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {o.SSLMode}}.Encode()
	}
	return u.String(), nil
}

func oracleDSN(o Options) (string, error) {
	if err := requireDatabase(o); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s@%s/%s", o.User, o.Password, hostPort(o.Host, o.Port, 1521), o.Database), nil
}

func describeError(err error) string {
	return err.Error()
}

func describeMySQLError(err error) string {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return fmt.Sprintf("MySQL Error %d: %s", me.Number, me.Message)
	}
	return err.Error()
}

func describePostgresError(err error) string {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s: %s", pe.Code, pe.Message)
	}
	return err.Error()
}
