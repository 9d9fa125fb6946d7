package runners

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/gw123/gflow-sub001/internal/engine"
)

// runMySQL executes `sql` (alias `query`) with positional `values`.
// The connection comes from a `dsn` parameter or credential, or is built from
// host, port, user, password and database (params first, then credentials).
// Row-returning statements yield {rows, count}; others yield
// {affectedRows, insertId}.
func runMySQL(ctx context.Context, call *Call) (*engine.Outcome, error) {
	stmt := strings.TrimSpace(stringParam(call.Params, "sql", stringParam(call.Params, "query", "")))
	if stmt == "" {
		return failed(call, "mysql requires a 'sql' parameter"), nil
	}
	cfg, err := mysqlConfig(call)
	if err != nil {
		return failed(call, "invalid connection settings: %s", err.Error()), nil
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return failed(call, "connect: %s", err.Error()), nil
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	timeout := durationParam(call.Params, "timeout", 30*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := sliceParam(call.Params, "values", "args")
	inputs := withParams(call.Params, map[string]any{"dsn": maskedDSN(cfg)})
	delete(inputs, "password")

	call.Logf("Executing on %s/%s", cfg.Addr, cfg.DBName)
	var output map[string]any
	if returnsRows(stmt) {
		rows, qerr := queryRows(ctx, db, stmt, args)
		if qerr != nil {
			out := failed(call, "query: %s", qerr.Error())
			out.Inputs = inputs
			return out, nil
		}
		call.Logf("Returned %d rows", len(rows))
		output = map[string]any{"rows": rows, "count": len(rows)}
	} else {
		res, xerr := db.ExecContext(ctx, stmt, args...)
		if xerr != nil {
			out := failed(call, "exec: %s", xerr.Error())
			out.Inputs = inputs
			return out, nil
		}
		affected, _ := res.RowsAffected()
		lastID, _ := res.LastInsertId()
		call.Logf("Affected %d rows", affected)
		output = map[string]any{"affectedRows": affected, "insertId": lastID}
	}

	out := succeeded(call, output)
	out.Inputs = inputs
	return out, nil
}

func mysqlConfig(call *Call) (*mysql.Config, error) {
	if dsn := stringParam(call.Params, "dsn", stringParam(call.Credentials, "dsn", "")); dsn != "" {
		return mysql.ParseDSN(dsn)
	}
	pick := func(key, def string) string {
		return stringParam(call.Params, key, stringParam(call.Credentials, key, def))
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = pick("host", "127.0.0.1") + ":" + strconv.Itoa(intParam(call.Params, "port", intParam(call.Credentials, "port", 3306)))
	cfg.User = pick("user", pick("username", "root"))
	cfg.Passwd = pick("password", "")
	cfg.DBName = pick("database", "")
	cfg.ParseTime = true
	return cfg, nil
}

func maskedDSN(cfg *mysql.Config) string {
	masked := cfg.Clone()
	if masked.Passwd != "" {
		masked.Passwd = "***"
	}
	return masked.FormatDSN()
}

func returnsRows(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH":
		return true
	}
	return false
}

func queryRows(ctx context.Context, db *sql.DB, stmt string, args []any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			case time.Time:
				row[col] = v.UTC().Format(time.RFC3339Nano)
			default:
				row[col] = v
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
