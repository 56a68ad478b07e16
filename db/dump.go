package db

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"gorm.io/gorm"
)

// DumpHeader first line of every SQL dump
const DumpHeader = "-- intrakill vault dump v1"

// ErrInvalidDump the input is not a vault dump
var ErrInvalidDump = errors.New("invalid vault dump")

// schemaObject one table or index definition
type schemaObject struct {
	Type string `gorm:"column:type"`
	Name string `gorm:"column:name"`
	SQL  string `gorm:"column:sql"`
}

/*
DumpSQL write the full schema and content of the DB as SQL text.

Tables are written in creation order, each definition followed by its rows. Indexes come
last. Blobs are hex encoded.

	@param ctx context.Context - execution context
	@param output io.Writer - dump destination
*/
func (c *clientImpl) DumpSQL(ctx context.Context, output io.Writer) error {
	logTags := c.GetLogTagsForContext(ctx)

	// One read transaction so the dump is a consistent snapshot
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Read the whole schema before reading any table, the client has a single connection
		var objects []schemaObject
		if tmp := tx.Raw(
			`SELECT type, name, sql FROM sqlite_master
				WHERE sql IS NOT NULL AND type IN ('table', 'index') AND name NOT LIKE 'sqlite_%'
				ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, rowid`,
		).Scan(&objects); tmp.Error != nil {
			return fmt.Errorf("failed to read DB schema [%w]", tmp.Error)
		}

		writer := bufio.NewWriter(output)
		if _, err := fmt.Fprintf(writer, "%s\n", DumpHeader); err != nil {
			return fmt.Errorf("failed to write dump header [%w]", err)
		}

		for _, object := range objects {
			if _, err := fmt.Fprintf(writer, "%s;\n", object.SQL); err != nil {
				return fmt.Errorf("failed to write definition of %s [%w]", object.Name, err)
			}
			if object.Type != "table" {
				continue
			}
			rows, err := dumpTableRows(tx, writer, object.Name)
			if err != nil {
				return err
			}
			log.WithFields(logTags).WithField("table", object.Name).WithField("rows", rows).Debug("Dumped table")
		}

		if err := writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush dump [%w]", err)
		}
		return nil
	})
}

// dumpTableRows write every row of a table as an INSERT statement
func dumpTableRows(tx *gorm.DB, writer io.Writer, table string) (int, error) {
	rows, err := tx.Raw(fmt.Sprintf("SELECT * FROM %s", quoteIdentifier(table))).Rows()
	if err != nil {
		return 0, fmt.Errorf("failed to read table %s [%w]", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns of %s [%w]", table, err)
	}

	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for idx := range values {
		pointers[idx] = &values[idx]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return count, fmt.Errorf("failed to scan row of %s [%w]", table, err)
		}

		literals := make([]string, len(values))
		for idx, value := range values {
			literals[idx] = sqlLiteral(value)
		}

		if _, err := fmt.Fprintf(
			writer, "INSERT INTO %s VALUES (%s);\n", quoteIdentifier(table), strings.Join(literals, ", "),
		); err != nil {
			return count, fmt.Errorf("failed to write row of %s [%w]", table, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to iterate table %s [%w]", table, err)
	}
	return count, nil
}

/*
RestoreSQL execute a dump produced by DumpSQL against this (empty) DB. The whole dump is
applied in one transaction with foreign key checks deferred to commit.

	@param ctx context.Context - execution context
	@param dump io.Reader - the dump
*/
func (c *clientImpl) RestoreSQL(ctx context.Context, dump io.Reader) error {
	reader := bufio.NewReader(dump)
	header, err := reader.ReadString('\n')
	if err != nil || strings.TrimRight(header, "\r\n") != DumpHeader {
		return fmt.Errorf("dump header not found [%w]", ErrInvalidDump)
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("PRAGMA defer_foreign_keys = ON").Error; err != nil {
			return fmt.Errorf("failed to defer foreign key checks [%w]", err)
		}

		statements := 0
		if err := ScanStatements(reader, func(statement string) error {
			statements++
			return tx.Exec(statement).Error
		}); err != nil {
			return fmt.Errorf("failed to apply dump statement %d [%w]", statements, err)
		}

		log.WithFields(c.GetLogTagsForContext(ctx)).
			WithField("statements", statements).
			Debug("Restored dump")
		return nil
	})
}

/*
ScanStatements split SQL text into statements at every `;` outside of quotes, passing each
non-empty statement to the callback.

	@param reader io.Reader - SQL text
	@param handle func(statement string) error - statement callback
*/
func ScanStatements(reader io.Reader, handle func(statement string) error) error {
	input := bufio.NewReader(reader)
	var current strings.Builder
	var quote byte

	emit := func() error {
		statement := strings.TrimSpace(current.String())
		current.Reset()
		if statement == "" {
			return nil
		}
		return handle(statement)
	}

	for {
		char, err := input.ReadByte()
		if err == io.EOF {
			if quote != 0 {
				return fmt.Errorf("unterminated quoted text [%w]", ErrInvalidDump)
			}
			return emit()
		}
		if err != nil {
			return err
		}

		switch {
		case quote != 0:
			// A doubled quote inside quoted text toggles out and straight back in
			if char == quote {
				quote = 0
			}
		case char == '\'' || char == '"' || char == '`':
			quote = char
		case char == ';':
			if err := emit(); err != nil {
				return err
			}
			continue
		}
		current.WriteByte(char)
	}
}

// quoteIdentifier quote a table name
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlLiteral render a scanned column value as an SQL literal
func sqlLiteral(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + v.Format(time.RFC3339Nano) + "'"
	}
	return "'" + strings.ReplaceAll(fmt.Sprintf("%v", value), "'", "''") + "'"
}
