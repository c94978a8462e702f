package dataset

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name        string
		header      []string
		records     [][]string
		infer       bool
		wantColumns []string
		wantRows    []Row
		wantErr     string
	}{
		{
			name:        "inferred values",
			header:      []string{"name", "age", "active"},
			records:     [][]string{{"Alice", "30", "true"}, {"Bob", "", "FALSE"}},
			infer:       true,
			wantColumns: []string{"name", "age", "active"},
			wantRows: []Row{
				{"name": "Alice", "age": 30.0, "active": true},
				{"name": "Bob", "age": nil, "active": false},
			},
		},
		{
			name:        "raw strings",
			header:      []string{"code"},
			records:     [][]string{{"007"}},
			infer:       false,
			wantColumns: []string{"code"},
			wantRows:    []Row{{"code": "007"}},
		},
		{
			name:        "trims header and strips BOM",
			header:      []string{"\ufeffid", " name "},
			records:     nil,
			wantColumns: []string{"id", "name"},
			wantRows:    []Row{},
		},
		{name: "empty header", header: nil, wantErr: "header row is empty"},
		{name: "blank column name", header: []string{"a", " "}, wantErr: "empty column name"},
		{name: "duplicate column", header: []string{"a", "b", "a"}, wantErr: "duplicate column name: 'a'"},
		{name: "short row", header: []string{"a", "b"}, records: [][]string{{"1", "2"}, {"3"}}, wantErr: "row 3 has 1 fields, header has 2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ds, err := New(tc.header, tc.records, tc.infer)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("New() error = %v, want it to contain %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(ds.Columns, tc.wantColumns) {
				t.Errorf("Columns = %v, want %v", ds.Columns, tc.wantColumns)
			}
			if !reflect.DeepEqual(ds.Rows, tc.wantRows) {
				t.Errorf("Rows = %v, want %v", ds.Rows, tc.wantRows)
			}
		})
	}
}

func TestNew_HeaderErrorsAreSentinels(t *testing.T) {
	_, err := New([]string{"x", "x"}, nil, true)
	if !errors.Is(err, errDuplicateColumn) {
		t.Errorf("errors.Is(err, errDuplicateColumn) = false for %v", err)
	}
}

func TestInferValue(t *testing.T) {
	testCases := []struct {
		in   string
		want interface{}
	}{
		{"", nil},
		{"   ", nil},
		{"42", 42.0},
		{" -3.5 ", -3.5},
		{"1e3", 1000.0},
		{"true", true},
		{"False", false},
		{"NaN", "NaN"},
		{"Inf", "Inf"},
		{"12abc", "12abc"},
		{" padded ", " padded "},
		{"0", 0.0},
		{"0.25", 0.25},
		{"-0.5", -0.5},
		{"00501", "00501"},
		{" -007 ", " -007 "},
		{"9007199254740991", 9007199254740991.0},
		{"9007199254740993", "9007199254740993"},
		{"-12345678901234567890", "-12345678901234567890"},
		{"1.5e20", 1.5e20},
	}
	for _, tc := range testCases {
		if got := InferValue(tc.in); got != tc.want {
			t.Errorf("InferValue(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestRowCloneIsolation(t *testing.T) {
	orig := Row{"a": 1.0}
	c := orig.Clone()
	c["a"] = 2.0
	c["b"] = "new"
	if orig["a"] != 1.0 || len(orig) != 1 {
		t.Errorf("Clone did not isolate the original: %v", orig)
	}
	if Row(nil).Clone() != nil {
		t.Errorf("Clone of nil row should be nil")
	}
}

func TestRowValues(t *testing.T) {
	row := Row{"a": 1.0, "b": "x"}
	got := row.Values([]string{"b", "missing", "a"})
	want := []interface{}{"x", nil, 1.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}
}

func TestColumnKinds(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"num", "flag", "text", "mixed", "blank"},
		Rows: []Row{
			{"num": 1.0, "flag": true, "text": "a", "mixed": 1.0, "blank": nil},
			{"num": nil, "flag": false, "text": "b", "mixed": "x", "blank": nil},
		},
	}
	want := map[string]Kind{
		"num":   KindNumber,
		"flag":  KindBool,
		"text":  KindText,
		"mixed": KindText,
		"blank": KindText,
	}
	if got := ds.ColumnKinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("ColumnKinds() = %v, want %v", got, want)
	}
}

func TestEmptyAndLen(t *testing.T) {
	ds := &Dataset{Columns: []string{"a"}, Rows: []Row{{"a": 1.0}}}
	e := ds.Empty()
	if e.Len() != 0 || !e.HasColumn("a") {
		t.Errorf("Empty() = %+v, want header kept and no rows", e)
	}
	e.Columns[0] = "changed"
	if ds.Columns[0] != "a" {
		t.Errorf("Empty() shares its header slice with the source")
	}
	var nilDS *Dataset
	if nilDS.Len() != 0 {
		t.Errorf("nil dataset Len() should be 0")
	}
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{30.0, "30"},
		{0.25, "0.25"},
		{true, "true"},
	}
	for _, tc := range testCases {
		if got := FormatValue(tc.in); got != tc.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
