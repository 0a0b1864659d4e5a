package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
)

// YAMLFormatter writes each report as a YAML document.
type YAMLFormatter struct{}

func (f *YAMLFormatter) encode(w *bytes.Buffer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// Install implements Formatter.
func (f *YAMLFormatter) Install(w *bytes.Buffer, r *install.Result) error {
	return f.encode(w, newInstallDoc(r))
}

// Status implements Formatter.
func (f *YAMLFormatter) Status(w *bytes.Buffer, s *install.Status) error {
	return f.encode(w, s)
}

// Verify implements Formatter.
func (f *YAMLFormatter) Verify(w *bytes.Buffer, v *install.Verification) error {
	return f.encode(w, struct {
		Verification install.Verification `yaml:",inline"`
		OK           bool                 `yaml:"ok"`
	}{*v, v.OK()})
}

// Backups implements Formatter.
func (f *YAMLFormatter) Backups(w *bytes.Buffer, target string, snaps []backup.Snapshot) error {
	return f.encode(w, newBackupsDoc(target, snaps))
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
