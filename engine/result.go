package engine

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Table is one result set produced by a statement.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ResultSet is the ordered list of tables produced by a script.
type ResultSet struct {
	Tables []Table `json:"tables"`
}

func tableName(i int) string {
	if i == 0 {
		return "Table"
	}
	return "Table" + strconv.Itoa(i)
}

// cellValue converts a scanned value into its serializable form. JSON has
// no NaN or infinities, those are stored as "NaN", "Infinity", "-Infinity".
func cellValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float32:
		return floatValue(float64(x), v)
	case float64:
		return floatValue(x, v)
	}
	return v
}

func floatValue(f float64, v any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return v
}

func (rs *ResultSet) addTable(columns []string, rows [][]any) {
	if rows == nil {
		rows = [][]any{}
	}
	for _, row := range rows {
		for i, v := range row {
			row[i] = cellValue(v)
		}
	}
	rs.Tables = append(rs.Tables, Table{
		Name:    tableName(len(rs.Tables)),
		Columns: columns,
		Rows:    rows,
	})
}

// Marshal serializes the result set into its canonical cache form.
func (rs *ResultSet) Marshal() (string, error) {
	if rs.Tables == nil {
		rs = &ResultSet{Tables: []Table{}}
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return "", errors.Wrap(err, "marshal result set")
	}
	return string(data), nil
}

// UnmarshalResultSet decodes a serialized result set. Numbers are kept as
// json.Number so values of different native widths decode identically.
func UnmarshalResultSet(data string) (*ResultSet, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var rs ResultSet
	if err := dec.Decode(&rs); err != nil {
		return nil, errors.Wrap(err, "unmarshal result set")
	}
	return &rs, nil
}

// Normalize round-trips the result set through its serialized form.
func Normalize(rs *ResultSet) (*ResultSet, error) {
	data, err := rs.Marshal()
	if err != nil {
		return nil, err
	}
	return UnmarshalResultSet(data)
}
