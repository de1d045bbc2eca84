package dataset

import (
	"github.com/Skufu/GeneLens/internal/quant"
)

// PatientRef tags a dataset row with its origin. It is kept beside the
// feature matrix, never inside it.
type PatientRef struct {
	Category  string `json:"category"`
	PatientID string `json:"patient_id"`
}

// Dataset is an ordered set of patient rows. Columns are the union of row
// keys in first-seen order; a key absent from a row reads as NaN.
type Dataset struct {
	columns  []string
	index    map[string]int
	text     map[string]bool
	rows     []quant.Record
	patients []PatientRef
}

func New() *Dataset {
	return &Dataset{
		index: make(map[string]int),
		text:  make(map[string]bool),
	}
}

// FromRecord wraps a single record as a one-row dataset.
func FromRecord(ref PatientRef, rec quant.Record) *Dataset {
	d := New()
	d.Append(ref, rec)
	return d
}

func (d *Dataset) Append(ref PatientRef, rec quant.Record) {
	for _, k := range rec.Keys() {
		if _, ok := d.index[k]; !ok {
			d.index[k] = len(d.columns)
			d.columns = append(d.columns, k)
		}
		if v, _ := rec.Get(k); v.IsText {
			d.text[k] = true
		}
	}
	d.rows = append(d.rows, rec)
	d.patients = append(d.patients, ref)
}

// Len is the number of rows. A nil dataset has none.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

func (d *Dataset) Columns() []string { return d.columns }

func (d *Dataset) Patients() []PatientRef { return d.patients }

func (d *Dataset) Record(i int) quant.Record { return d.rows[i] }

// Value returns the cell at row i, column col; NaN when the row lacks it.
func (d *Dataset) Value(i int, col string) quant.Value {
	if v, ok := d.rows[i].Get(col); ok {
		return v
	}
	return quant.Missing()
}

// Dense returns row i over the full column set, with NaN fill.
func (d *Dataset) Dense(i int) quant.Record {
	out := quant.NewRecord(len(d.columns))
	for _, c := range d.columns {
		out.Set(c, d.Value(i, c))
	}
	return out
}

// TextColumns reports columns holding categorical text in any row.
func (d *Dataset) TextColumns() map[string]bool {
	out := make(map[string]bool, len(d.text))
	for k := range d.text {
		out[k] = true
	}
	return out
}
