package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
)

// JSONFormatter writes each report as a single indented JSON object.
type JSONFormatter struct{}

func (f *JSONFormatter) encode(w *bytes.Buffer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Install implements Formatter.
func (f *JSONFormatter) Install(w *bytes.Buffer, r *install.Result) error {
	return f.encode(w, newInstallDoc(r))
}

// Status implements Formatter.
func (f *JSONFormatter) Status(w *bytes.Buffer, s *install.Status) error {
	return f.encode(w, s)
}

// Verify implements Formatter.
func (f *JSONFormatter) Verify(w *bytes.Buffer, v *install.Verification) error {
	return f.encode(w, struct {
		*install.Verification
		OK bool `json:"ok"`
	}{v, v.OK()})
}

// Backups implements Formatter.
func (f *JSONFormatter) Backups(w *bytes.Buffer, target string, snaps []backup.Snapshot) error {
	return f.encode(w, newBackupsDoc(target, snaps))
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)
