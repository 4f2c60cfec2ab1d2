// Package datarecording stores flat Go structs in SQLite tables and reads
// them back.
//
// Each exported field of a struct becomes a column named after the field.
// Fields tagged `recording:"index"` get an index.
package datarecording

import (
	"database/sql"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
)

// FileExt is appended to database names to form the file name.
const FileExt = ".sqlite3"

const defaultBatchSize = 100000

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers an entry for a table that already exists. Entries
	// are written when the buffer is full or on Flush.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of all tables, sorted.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush() error

	// Close flushes and closes the database.
	Close() error
}

// New creates a DataRecorder writing to name + ".sqlite3". An empty name
// picks a unique one. The file must not exist yet. Buffered entries are
// flushed when the program exits through atexit.
func New(name string) (DataRecorder, error) {
	if name == "" {
		name = "tracetree_" + xid.New().String()
	}

	filename := name + FileExt

	if _, err := os.Stat(filename); err == nil {
		return nil, errors.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", filename)
	}

	logrus.WithField("path", filename).Info("database created for recording")

	w := NewWithDB(db).(*sqliteWriter)
	w.filename = filename

	return w, nil
}

// NewWithDB creates a DataRecorder writing to an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() {
		if err := w.Flush(); err != nil {
			logrus.WithError(err).Error("flushing recorded data at exit")
		}
	})

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that writes data into SQLite database
type sqliteWriter struct {
	*sql.DB

	filename   string
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) (reflect.Type, error) {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("entry %T is not a struct", entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() {
			return nil, errors.Errorf("field %s of %s is not exported",
				field.Name, t.Name())
		}

		if !isAllowedKind(field.Type.Kind()) {
			return nil, errors.Errorf("field %s of %s has unsupported type %s",
				field.Name, t.Name(), field.Type)
		}
	}

	return t, nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) error {
	structType, err := checkStructFields(sampleEntry)
	if err != nil {
		return err
	}

	if _, exists := w.tables[tableName]; exists {
		return errors.Errorf("table %s already exists", tableName)
	}

	names := structs.Names(sampleEntry)
	fields := strings.Join(names, ", \n\t")

	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`
	if _, err := w.Exec(createTableSQL); err != nil {
		return errors.Wrapf(err, "creating table %s", tableName)
	}

	for _, f := range structs.Fields(sampleEntry) {
		if f.Tag("recording") != "index" {
			continue
		}

		indexSQL := `CREATE INDEX ` + tableName + `_` + f.Name() +
			` ON ` + tableName + `(` + f.Name() + `);`
		if _, err := w.Exec(indexSQL); err != nil {
			return errors.Wrapf(err, "indexing %s.%s", tableName, f.Name())
		}
	}

	w.tables[tableName] = &table{structType: structType}

	return nil
}

func (w *sqliteWriter) InsertData(tableName string, entry any) error {
	t, exists := w.tables[tableName]
	if !exists {
		return errors.Errorf("table %s does not exist", tableName)
	}

	if reflect.TypeOf(entry) != t.structType {
		return errors.Errorf("entry %T does not match table %s",
			entry, tableName)
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		return w.Flush()
	}

	return nil
}

func (w *sqliteWriter) ListTables() []string {
	tables := make([]string, 0, len(w.tables))
	for table := range w.tables {
		tables = append(tables, table)
	}

	sort.Strings(tables)

	return tables
}

func (w *sqliteWriter) Flush() error {
	if w.entryCount == 0 || w.closed {
		return nil
	}

	tx, err := w.Begin()
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}

	for _, tableName := range w.ListTables() {
		if err := w.flushTable(tx, tableName); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	for _, t := range w.tables {
		t.entries = nil
	}

	w.entryCount = 0

	return nil
}

func (w *sqliteWriter) flushTable(tx *sql.Tx, tableName string) error {
	t := w.tables[tableName]
	if len(t.entries) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertStatement(tableName, t.structType.NumField()))
	if err != nil {
		return errors.Wrapf(err, "preparing insert into %s", tableName)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return errors.Wrapf(err, "inserting into %s", tableName)
		}
	}

	return nil
}

func insertStatement(tableName string, numFields int) string {
	marks := make([]string, numFields)
	for i := range marks {
		marks[i] = "?"
	}

	return "INSERT INTO " + tableName +
		" VALUES (" + strings.Join(marks, ", ") + ")"
}

func (w *sqliteWriter) Close() error {
	if w.closed {
		return nil
	}

	err := w.Flush()
	w.closed = true

	if cerr := w.DB.Close(); err == nil {
		err = cerr
	}

	return err
}
