package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/user-provisioner/internal/config"
	"github.com/cuongbtq/user-provisioner/internal/importer"
)

func testConfig() *config.Config {
	return &config.Config{Import: config.ImportConfig{
		DefaultRole: "subscriber",
		CoreGroup:   "core-g",
		MetaGroup:   "meta-g",
		MetaLead:    time.Minute,
		MetaMode:    "allowlist",
	}}
}

func TestResolveOptions_RolePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		flags      []string
		positional map[string]string
		env        string
		want       string
	}{
		{name: "config default", want: "subscriber"},
		{name: "env over config", env: "author", want: "author"},
		{name: "positional over env", env: "author", positional: map[string]string{"role": "editor"}, want: "editor"},
		{name: "flag over positional", env: "author", positional: map[string]string{"role": "editor"}, flags: []string{"--role", "administrator"}, want: "administrator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ro := &rootOptions{}
			cmd := newImportCmd(ro, "core", "")
			require.NoError(t, cmd.ParseFlags(tt.flags))

			opts, err := resolveOptions(cmd, testConfig(), "core", tt.positional, tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts.Role)
			assert.Equal(t, "core-g", opts.Group)
		})
	}
}

func TestResolveOptions_Meta(t *testing.T) {
	cmd := newImportCmd(&rootOptions{}, "meta", "")
	require.NoError(t, cmd.ParseFlags([]string{"--now", "--match", "by-email", "--delimiter", ";", "--limit", "5"}))

	opts, err := resolveOptions(cmd, testConfig(), "meta", map[string]string{"idcol": "correo"}, "ignored")
	require.NoError(t, err)

	assert.Equal(t, "meta-g", opts.Group)
	assert.Equal(t, time.Minute, opts.Lead)
	assert.True(t, opts.Now)
	assert.Equal(t, importer.MatchByEmail, opts.Match)
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, 5, opts.Limit)
	assert.Equal(t, "correo", opts.IDColumn)
	assert.Empty(t, opts.Role, "ROLE only applies to core runs")
}

func TestResolveOptions_Invalid(t *testing.T) {
	cmd := newImportCmd(&rootOptions{}, "meta", "")
	require.NoError(t, cmd.ParseFlags([]string{"--match", "phone"}))

	_, err := resolveOptions(cmd, testConfig(), "meta", nil, "")
	assert.ErrorIs(t, err, importer.ErrInvalidMatch)

	_, err = resolveOptions(newImportCmd(&rootOptions{}, "core", ""), testConfig(), "core", map[string]string{"colour": "red"}, "")
	assert.ErrorIs(t, err, importer.ErrUnknownOption)
}

func TestRootCmd_DryRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n  format: json\n"), 0o644))

	csvPath := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("user_login,user_email\njdoe,jdoe@example.com\nbad,\n"), 0o644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "--json", "core", csvPath, "role=author", "--dry-run"})

	require.NoError(t, root.ExecuteContext(context.Background()))

	var report importer.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 1, report.Scheduled)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, "user-import-core", report.Group)
}

func TestRootCmd_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o644))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "meta", filepath.Join(dir, "nope.csv"), "--dry-run"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open csv")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	report := &importer.Report{
		Kind: "meta", Group: "g", Rows: 3, Scheduled: 1, Skipped: 1, NotFound: 1,
		FirstRun: 100, LastRun: 100, Limited: true,
		Problems: []importer.RowProblem{
			{Line: 2, Reason: "missing_identity"},
			{Line: 3, Reason: "not_found", Detail: "login=ghost"},
		},
	}

	require.NoError(t, printReport(&out, report, false))
	assert.Equal(t,
		"meta import: group=g rows=3 scheduled=1 skipped=1 not_found=1 failed=0\n"+
			"run window: 100 .. 100\n"+
			"stopped early: limit reached\n"+
			"line 2: missing_identity\n"+
			"line 3: not_found (login=ghost)\n",
		out.String())
}

// flakyScheduler fails every call listed in failOn (1-based).
type flakyScheduler struct {
	failOn map[int]bool
	calls  int
}

func (f *flakyScheduler) Schedule(ctx context.Context, runAt int64, hook string, payload any, group string) (string, error) {
	f.calls++
	if f.failOn[f.calls] {
		return "", errors.New("insert scheduled job: connection reset")
	}
	return fmt.Sprintf("job-%d", f.calls), nil
}

func TestImportAndReport(t *testing.T) {
	tests := []struct {
		name        string
		csv         string
		failOn      map[int]bool
		wantErr     error
		wantOut     string
		wantWarning string
	}{
		{
			name:        "row that cannot be scheduled is a warning",
			csv:         "login,email\njdoe,jdoe@example.com\nasmith,asmith@example.com\n",
			failOn:      map[int]bool{2: true},
			wantOut:     "core import: group=user-import-core rows=2 scheduled=1 skipped=0 not_found=0 failed=1\n",
			wantWarning: "warning: 1 row(s) could not be scheduled\n",
		},
		{
			name:    "all rows scheduled",
			csv:     "login,email\njdoe,jdoe@example.com\n",
			wantOut: "core import: group=user-import-core rows=1 scheduled=1 skipped=0 not_found=0 failed=0\n",
		},
		{
			name:    "empty file fails the run",
			csv:     "",
			wantErr: importer.ErrEmptyCSV,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			im := importer.New(&flakyScheduler{failOn: tt.failOn}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

			err := importAndReport(context.Background(), &out, &errOut, im, "core", strings.NewReader(tt.csv), importer.Options{}, false)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out.String(), tt.wantOut), out.String())
			assert.Equal(t, tt.wantWarning, errOut.String())
		})
	}
}
