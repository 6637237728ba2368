// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package csvlog is a schema-checked CSV writer: a caller declares an
// ordered column list once, and every subsequent row is validated
// against it and appended with an auto-incrementing id column.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"reflect"

	"github.com/jszwec/csvutil"

	"github.com/efimon/efimon/internal/status"
)

// ColumnType is the declared type of a schema column.
type ColumnType int

const (
	None ColumnType = iota
	Integer64
	Float
	String
)

// Column is one entry of an ordered schema.
type Column struct {
	Name string
	Type ColumnType
}

// Logger writes rows conforming to a fixed schema to a CSV file, with a
// leading auto-incrementing "ID" column.
type Logger struct {
	path   string
	schema []Column
	index  map[string]int

	file    *os.File
	writer  *csv.Writer
	encoder *csvutil.Encoder
	rowType reflect.Type

	nextID int64
	open   bool
}

// New declares the schema and writes the header row ("ID" followed by
// every column name, in order) to path, truncating any existing file.
func New(path string, schema []Column) (*Logger, status.Status) {
	f, err := os.Create(path)
	if err != nil {
		return nil, status.Newf(status.LoggerCannotOpen, "create %s: %v", path, err)
	}

	fields := make([]reflect.StructField, len(schema)+1)
	fields[0] = reflect.StructField{
		Name: "ID",
		Type: reflect.TypeOf(int64(0)),
		Tag:  `csv:"ID"`,
	}
	index := make(map[string]int, len(schema))
	for i, col := range schema {
		fields[i+1] = reflect.StructField{
			Name: fmt.Sprintf("Field%d", i),
			Type: columnGoType(col.Type),
			Tag:  reflect.StructTag(fmt.Sprintf(`csv:"%s"`, col.Name)),
		}
		index[col.Name] = i + 1
	}
	rowType := reflect.StructOf(fields)

	writer := csv.NewWriter(f)
	enc := csvutil.NewEncoder(writer)
	if err := enc.EncodeHeader(reflect.New(rowType).Elem().Interface()); err != nil {
		f.Close()
		return nil, status.Newf(status.LoggerCannotOpen, "write header: %v", err)
	}
	writer.Flush()

	return &Logger{
		path:    path,
		schema:  schema,
		index:   index,
		file:    f,
		writer:  writer,
		encoder: enc,
		rowType: rowType,
		open:    true,
	}, status.OKStatus
}

func columnGoType(t ColumnType) reflect.Type {
	switch t {
	case Integer64:
		return reflect.TypeOf((*int64)(nil))
	case Float:
		return reflect.TypeOf((*float64)(nil))
	case String:
		return reflect.TypeOf((*string)(nil))
	default:
		return reflect.TypeOf((*string)(nil))
	}
}

// InsertRow appends one row built from values, keyed by column name.
// Fields absent from values are written empty; the ID column is filled
// automatically. Absent fields do not fail the call, but the returned
// status carries OK with a note naming which columns were missing.
func (l *Logger) InsertRow(values map[string]any) status.Status {
	if !l.open {
		return status.Newf(status.LoggerCannotInsert, "logger for %s is closed", l.path)
	}

	row := reflect.New(l.rowType).Elem()
	row.Field(0).SetInt(l.nextID)
	var missing []string

	for _, col := range l.schema {
		i := l.index[col.Name]
		field := row.Field(i)
		v, ok := values[col.Name]
		if !ok {
			missing = append(missing, col.Name)
			continue
		}
		if err := setField(field, col.Type, v); err != nil {
			return status.Newf(status.LoggerCannotInsert, "column %s: %v", col.Name, err)
		}
	}

	if err := l.encoder.Encode(row.Interface()); err != nil {
		return status.Newf(status.LoggerCannotInsert, "encode row: %v", err)
	}
	l.writer.Flush()
	l.nextID++

	if len(missing) > 0 {
		return status.New(status.OK, fmt.Sprintf("missing fields: %v", missing))
	}
	return status.OKStatus
}

func setField(field reflect.Value, t ColumnType, v any) error {
	switch t {
	case Integer64:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(&i))
	case Float:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(&f))
	default:
		s := fmt.Sprintf("%v", v)
		field.Set(reflect.ValueOf(&s))
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not a float", v)
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() status.Status {
	if !l.open {
		return status.OKStatus
	}
	l.open = false
	if err := l.file.Close(); err != nil {
		return status.Newf(status.FileError, "close %s: %v", l.path, err)
	}
	return status.OKStatus
}
