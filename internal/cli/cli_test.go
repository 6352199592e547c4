package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleJSONL = `{"id":"a1","account":"A","created":"2024-05-06T09:00:00Z","priority":"high"}
# comments and blank lines are skipped

{"id":"b1","account":"B","created":"2024-05-06T09:00:03Z","priority":"high"}
{"id":"a2","account":"A","created":"2024-05-06T09:00:20Z","priority":"high"}
`

func TestSimulateJSON(t *testing.T) {
	t.Parallel()
	out, err := run(t, "", "simulate", "--input", writeTemp(t, "in.jsonl", sampleJSONL), "--format", "json")
	require.NoError(t, err)

	var rows []simRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)

	d0 := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	require.Equal(t, "a1", rows[0].ID)
	require.True(t, rows[0].ScheduledAt.Equal(d0))
	require.Equal(t, "first", rows[0].Rule)

	require.Equal(t, "b1", rows[1].ID)
	require.True(t, rows[1].ScheduledAt.Equal(d0.Add(10*time.Second)))
	require.Equal(t, 1, rows[1].Shifts)

	require.Equal(t, "a2", rows[2].ID)
	require.True(t, rows[2].ScheduledAt.Equal(d0.Add(time.Minute)))
	require.Equal(t, "spacing", rows[2].Rule)
	require.Equal(t, "40s", rows[2].Delay)
}

func TestSimulateYAMLTable(t *testing.T) {
	t.Parallel()
	in := `
- id: l1
  account: A
  created: "2024-05-06T09:00:00Z"
  priority: low
- id: l2
  account: A
  created: 2024-05-06T12:00:00Z
  priority: LOW
`
	out, err := run(t, "", "simulate", "-i", writeTemp(t, "in.yaml", in))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "SEQ"))
	require.Contains(t, lines[2], "l2")
	require.Contains(t, lines[2], "2024-05-07T09:00:00Z")
	require.Contains(t, lines[2], "low_throttle")
}

func TestSimulateStdinAndPolicyFlags(t *testing.T) {
	t.Parallel()
	in := `[{"account":"A","created":"2024-05-06T09:00:00","priority":"high"},
{"account":"A","created":"2024-05-06T09:00:00","priority":"high"}]`
	out, err := run(t, in, "simulate", "-i", "-", "--input-format", "json", "--spacing", "5m", "--tz", "Asia/Jakarta", "-f", "json")
	require.NoError(t, err)

	var rows []simRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	require.Equal(t, 5*time.Minute, rows[1].ScheduledAt.Sub(rows[0].ScheduledAt))
	_, offset := rows[0].Created.Zone()
	require.Equal(t, 7*3600, offset)
}

func TestSimulateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		args []string
		want string
	}{
		{name: "bad priority", body: `{"account":"A","created":"2024-05-06T09:00:00Z","priority":"urgent"}`, want: "item 1"},
		{name: "bad created", body: `{"account":"A","created":"yesterday","priority":"low"}`, want: "created"},
		{name: "missing account", body: `{"created":"2024-05-06T09:00:00Z","priority":"low"}`, want: "account is required"},
		{name: "bad json", body: `{"account":`, want: "line 1"},
		{name: "bad format", body: ``, args: []string{"--format", "xml"}, want: "unknown --format"},
		{name: "bad tz", body: ``, args: []string{"--tz", "Mars/Olympus"}, want: "--tz"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			args := append([]string{"simulate", "-i", writeTemp(t, "in.jsonl", tt.body)}, tt.args...)
			_, err := run(t, "", args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := run(t, "", "simulate")
	require.Error(t, err)
}

func TestCheckAndVersion(t *testing.T) {
	t.Parallel()
	good := writeTemp(t, "notifyd.yaml", "http:\n  enabled: false\nstorage:\n  driver: file\n  path: ./var/notifyd.db\n")
	out, err := run(t, "", "check", "--config", good)
	require.NoError(t, err)
	require.Contains(t, out, "config ok")
	require.Contains(t, out, "storage=file")

	bad := writeTemp(t, "notifyd.yaml", "report:\n  enabled: true\n  schedule: whenever\n")
	_, err = run(t, "", "check", "--config", bad)
	require.Error(t, err)

	out, err = run(t, "", "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "notifyd dev"))
}
