package etlsri

import (
	"fmt"
)

// Object identifies a Cloud Storage object.
type Object struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// FullPath returns full path of storage object beginning with gs://.
func (o Object) FullPath() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// TableRef identifies a BigQuery table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// FullID returns the table ID in the form of project.dataset.table.
func (t TableRef) FullID() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}
