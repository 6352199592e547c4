package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"notifyd/internal/schedule"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

type simInput struct {
	ID       string `json:"id" yaml:"id"`
	Account  string `json:"account" yaml:"account"`
	Created  string `json:"created" yaml:"created"`
	Priority string `json:"priority" yaml:"priority"`
}

type simRow struct {
	Seq         uint64    `json:"seq"`
	ID          string    `json:"id,omitempty"`
	Account     string    `json:"account"`
	Priority    string    `json:"priority"`
	Created     time.Time `json:"created"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Delay       string    `json:"delay"`
	Rule        string    `json:"rule"`
	Shifts      int       `json:"shifts,omitempty"`
}

type simOptions struct {
	input       string
	inputFormat string
	format      string
	spacing     time.Duration
	guard       time.Duration
	lowDays     int
	tz          string
}

func newSimulateCmd() *cobra.Command {
	o := simOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Schedule notifications from a file and print the result",
		Long: `simulate feeds notifications, in file order, through a fresh scheduler
and prints the resulting schedule ordered by delivery time.

Input is JSON Lines (.jsonl), a JSON array (.json) or a YAML list (.yaml):
  {"id":"n1","account":"acme","created":"2024-05-06T09:00:00Z","priority":"high"}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.InOrStdin(), cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.input, "input", "i", "", `input file ("-" for stdin)`)
	f.StringVar(&o.inputFormat, "input-format", "", "jsonl|json|yaml (default: from file extension)")
	f.StringVarP(&o.format, "format", "f", "table", "output format: table|json")
	f.DurationVar(&o.spacing, "spacing", schedule.DefaultSameAccountSpacing, "minimum gap between entries of one account")
	f.DurationVar(&o.guard, "guard", schedule.DefaultCrossAccountGuard, "minimum distance to other accounts' entries")
	f.IntVar(&o.lowDays, "low-days", schedule.DefaultLowThrottleDays, "calendar days between low-priority entries of one account")
	f.StringVar(&o.tz, "tz", "", "IANA timezone for calendar dates (default: each timestamp's own)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runSimulate(stdin io.Reader, out io.Writer, o simOptions) error {
	policy := schedule.Policy{
		SameAccountSpacing: o.spacing,
		CrossAccountGuard:  o.guard,
		LowThrottleDays:    o.lowDays,
	}
	if tz := strings.TrimSpace(o.tz); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("--tz: %w", err)
		}
		policy.Location = loc
	}

	var r io.Reader = stdin
	if o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	format := o.inputFormat
	if format == "" {
		format = formatFromExt(o.input)
	}
	inputs, err := readInputs(r, format)
	if err != nil {
		return err
	}

	d := schedule.NewDispatcher(policy)
	decisions := make(map[uint64]schedule.Decision, len(inputs))
	for i, in := range inputs {
		n, err := in.notification(policy.Location)
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		e, dec, err := d.SubmitExplain(n)
		if err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
		decisions[e.Seq] = dec
	}

	ordered := d.Ordered()
	rows := make([]simRow, 0, len(ordered))
	for _, e := range ordered {
		dec := decisions[e.Seq]
		rows = append(rows, simRow{
			Seq:         e.Seq,
			ID:          e.Notification.ID,
			Account:     e.Notification.Account,
			Priority:    e.Notification.Priority.String(),
			Created:     e.Notification.Created,
			ScheduledAt: e.ScheduledAt,
			Delay:       e.Delay().String(),
			Rule:        string(dec.Rule),
			Shifts:      dec.Shifts,
		})
	}

	switch strings.ToLower(o.format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "table", "":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tID\tACCOUNT\tPRIORITY\tCREATED\tSCHEDULED\tDELAY\tRULE\tSHIFTS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				r.Seq, r.ID, r.Account, r.Priority,
				r.Created.Format(time.RFC3339), r.ScheduledAt.Format(time.RFC3339),
				r.Delay, r.Rule, r.Shifts)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown --format %q (want table|json)", o.format)
	}
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "jsonl"
	}
}

func readInputs(r io.Reader, format string) ([]simInput, error) {
	var out []simInput
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&out); err != nil && err != io.EOF {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&out); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	case "jsonl", "ndjson":
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		line := 0
		for sc.Scan() {
			line++
			b := strings.TrimSpace(sc.Text())
			if b == "" || strings.HasPrefix(b, "#") {
				continue
			}
			var in simInput
			if err := json.Unmarshal([]byte(b), &in); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, in)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
	return out, nil
}

// notification parses created as RFC 3339; a timestamp without an offset is
// read in loc (UTC when nil).
func (in simInput) notification(loc *time.Location) (schedule.Notification, error) {
	prio, err := schedule.ParsePriority(in.Priority)
	if err != nil {
		return schedule.Notification{}, err
	}
	raw := strings.TrimSpace(in.Created)
	created, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		if loc == nil {
			loc = time.UTC
		}
		var perr error
		if created, perr = time.ParseInLocation("2006-01-02T15:04:05", raw, loc); perr != nil {
			return schedule.Notification{}, fmt.Errorf("created %q: %w", in.Created, err)
		}
	}
	return schedule.Notification{ID: in.ID, Account: in.Account, Created: created, Priority: prio}, nil
}
