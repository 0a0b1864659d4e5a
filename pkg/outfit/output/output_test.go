package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/outfit/pkg/outfit/apply"
	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

func sampleResult() *install.Result {
	return &install.Result{
		Success:     true,
		InstallType: types.InstallUpdate,
		AttemptID:   "7d1c",
		Target:      "/home/user/project/.outfit-core",
		Changes:     changes.Summary{Added: 1, Modified: 2, Deleted: 1, Unchanged: 10},
		BackupPath:  "/home/user/project/.outfit-core.backup-20260301T120000Z",
		Units: []install.UnitResult{
			{Unit: "core", State: detect.Current, InstallType: types.InstallUpdate, Version: "4.0.0"},
		},
		Stats:    apply.Stats{FilesWritten: 3, BytesWritten: 2048, CacheHits: 1},
		Duration: 1500 * time.Millisecond,
	}
}

func sampleStatus() *install.Status {
	return &install.Status{
		Target:         "/srv/.outfit-core",
		Exists:         true,
		State:          detect.Current,
		Version:        "4.0.0",
		IntegrityValid: true,
		ExpansionPacks: map[string]install.PackStatus{
			"game": {State: detect.Current, Version: "1.2.0", IntegrityValid: false},
		},
	}
}

func sampleVerification() *install.Verification {
	return &install.Verification{
		Target: "/srv/.outfit-core",
		State:  detect.Current,
		Core:   integrity.Report{Assessed: true, Checked: 3, Missing: []string{"a.md"}, Modified: []string{}},
		Packs:  map[string]integrity.Report{"game": {Assessed: true, Checked: 1, Missing: []string{}, Modified: []string{}}},
	}
}

func sampleBackups() []backup.Snapshot {
	return []backup.Snapshot{{
		Path:      "/srv/.outfit-core.backup-20260301T120000Z.tar.gz",
		Format:    backup.FormatTarGz,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Size:      4096,
	}}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "plain", "pretty", "yaml"}, Available())

	f, err := Get("pretty")
	require.NoError(t, err)
	assert.IsType(t, &PrettyFormatter{}, f)

	_, err = Get("xml")
	assert.Error(t, err)
}

func TestEveryFormatterRendersEveryReport(t *testing.T) {
	for _, name := range Available() {
		t.Run(name, func(t *testing.T) {
			f, err := Get(name)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, f.Install(&buf, sampleResult()))
			assert.Contains(t, buf.String(), ".outfit-core")

			buf.Reset()
			require.NoError(t, f.Status(&buf, sampleStatus()))
			assert.Contains(t, buf.String(), "game")

			buf.Reset()
			require.NoError(t, f.Verify(&buf, sampleVerification()))
			assert.Contains(t, buf.String(), "a.md")

			buf.Reset()
			require.NoError(t, f.Backups(&buf, "/srv/.outfit-core", sampleBackups()))
			assert.Contains(t, buf.String(), ".tar.gz")
		})
	}
}

func TestJSONInstall(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Install(&buf, sampleResult()))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, true, parsed["success"])
	assert.Equal(t, "update", parsed["install_type"])
	assert.Equal(t, "1.5s", parsed["duration"])

	stats := parsed["stats"].(map[string]interface{})
	assert.Equal(t, "2.0 KiB", stats["bytes_human"])

	units := parsed["units"].([]interface{})
	require.Len(t, units, 1)
	assert.Equal(t, "current_existing", units[0].(map[string]interface{})["state"])
}

func TestJSONVerify(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Verify(&buf, sampleVerification()))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, false, parsed["ok"])
	assert.Equal(t, "/srv/.outfit-core", parsed["target"])
}

func TestYAMLInstallFailure(t *testing.T) {
	r := &install.Result{
		AttemptID: "1",
		Target:    "/srv/x",
		Error:     "backup of /srv/x failed: disk full",
		Phase:     errs.PhaseBackup,
	}
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Install(&buf, r))

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, false, parsed["success"])
	assert.Equal(t, "backup", parsed["phase"])
	assert.NotContains(t, parsed, "duration_ns")
}

func TestYAMLVerifyInlinesReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Verify(&buf, sampleVerification()))

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, false, parsed["ok"])
	assert.Equal(t, "current_existing", parsed["state"])
}

func TestPrettyInstallFailure(t *testing.T) {
	r := &install.Result{Target: "/srv/x", Error: "boom", Phase: errs.PhaseApply, Warnings: []string{"integration gitignore: denied"}}
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Install(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "Install failed")
	assert.Contains(t, out, "apply")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "Warnings:")
}

func TestPrettyStatusNotInstalled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Status(&buf, &install.Status{Target: "/srv/none"}))
	assert.Contains(t, buf.String(), "Not installed")
}

func TestPlainBackupsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Backups(&buf, "/srv/x", nil))
	assert.Equal(t, "CREATED FORMAT SIZE PATH\n", buf.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
