package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
	"github.com/smmrizwan/hemodialysis-sub001/internal/domain/calculator"
	"github.com/smmrizwan/hemodialysis-sub001/internal/platform/db"
	"github.com/smmrizwan/hemodialysis-sub001/migrations"
	"github.com/smmrizwan/hemodialysis-sub001/pkg/civil"
)

// migrationsFS returns the embedded schema, or dir when one is given.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsFS(dir), logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir), logger).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Re-derive every stored lab panel from its raw values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := loadTargets(cfg)
			if err != nil {
				return err
			}

			res, err := newServices(cfg, pool, store, logger).labs.Recompute(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recomputed %d patient(s), %d panel(s) updated.\n", res.Patients, res.Updated)
			return nil
		},
	}
}

// calcInputs maps numeric calc flags onto request fields.
var calcInputs = []struct {
	flag  string
	usage string
	field func(r *calculator.Request) **float64
}{
	{"height-cm", "height in cm", func(r *calculator.Request) **float64 { return &r.HeightCm }},
	{"weight-kg", "weight in kg", func(r *calculator.Request) **float64 { return &r.WeightKg }},
	{"systolic", "systolic pressure, mmHg", func(r *calculator.Request) **float64 { return &r.Systolic }},
	{"diastolic", "diastolic pressure, mmHg", func(r *calculator.Request) **float64 { return &r.Diastolic }},
	{"iron", "serum iron, umol/L", func(r *calculator.Request) **float64 { return &r.Iron }},
	{"tibc", "TIBC, umol/L", func(r *calculator.Request) **float64 { return &r.TIBC }},
	{"calcium", "calcium, mmol/L", func(r *calculator.Request) **float64 { return &r.Calcium }},
	{"albumin", "albumin, g/L", func(r *calculator.Request) **float64 { return &r.Albumin }},
	{"phosphorus", "phosphorus, mmol/L", func(r *calculator.Request) **float64 { return &r.Phosphorus }},
	{"corrected-calcium", "corrected calcium, mmol/L", func(r *calculator.Request) **float64 { return &r.CorrectedCalcium }},
	{"pth-pmol", "PTH, pmol/L", func(r *calculator.Request) **float64 { return &r.PTHPmol }},
	{"pre-bun", "pre-dialysis urea, mmol/L", func(r *calculator.Request) **float64 { return &r.PreBUN }},
	{"post-bun", "post-dialysis urea, mmol/L", func(r *calculator.Request) **float64 { return &r.PostBUN }},
	{"duration-hr", "session length, hours", func(r *calculator.Request) **float64 { return &r.DurationHr }},
	{"post-weight-kg", "post-dialysis weight, kg", func(r *calculator.Request) **float64 { return &r.PostWeightKg }},
	{"uf-volume-l", "ultrafiltration volume, L", func(r *calculator.Request) **float64 { return &r.UFVolumeL }},
	{"hb", "hemoglobin, g/L", func(r *calculator.Request) **float64 { return &r.Hb }},
	{"previous-hb", "previous hemoglobin, g/L", func(r *calculator.Request) **float64 { return &r.PreviousHb }},
}

var calcDates = []struct {
	flag  string
	usage string
	field func(r *calculator.Request) *civil.Date
}{
	{"birth-date", "date of birth, YYYY-MM-DD", func(r *calculator.Request) *civil.Date { return &r.BirthDate }},
	{"dialysis-start", "dialysis start date, YYYY-MM-DD", func(r *calculator.Request) *civil.Date { return &r.DialysisStartDate }},
	{"as-of", "reference date, YYYY-MM-DD (default today)", func(r *calculator.Request) *civil.Date { return &r.ReferenceDate }},
}

func calcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc [metric]",
		Short: "Compute derived values offline",
		Long: "Compute one derived value, or every value the inputs allow when no metric is given.\n" +
			"Metrics: " + fmt.Sprint(calculator.Metrics),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := calcRequest(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			store, err := loadTargets(cfg)
			if err != nil {
				return err
			}
			svc := calculator.NewService(cfg.MAP(), cfg.KtV(), store)

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				res, err := svc.Compute(req)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			res, err := svc.Metric(args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatMetric(res))
			return nil
		},
	}

	for _, in := range calcInputs {
		cmd.Flags().Float64(in.flag, 0, in.usage)
	}
	for _, d := range calcDates {
		cmd.Flags().String(d.flag, "", d.usage)
	}
	cmd.Flags().String("map-strategy", "", "interpolated or weighted (default from MAP_STRATEGY)")
	cmd.Flags().String("ktv-model", "", "simple or daugirdas (default from KTV_MODEL)")
	return cmd
}

// calcRequest builds a request from the flags that were set. Unset numeric
// flags stay nil so the dependent metrics report missing input.
func calcRequest(cmd *cobra.Command) (*calculator.Request, error) {
	flags := cmd.Flags()
	req := &calculator.Request{}
	for _, in := range calcInputs {
		if !flags.Changed(in.flag) {
			continue
		}
		v, err := flags.GetFloat64(in.flag)
		if err != nil {
			return nil, err
		}
		*in.field(req) = &v
	}
	for _, d := range calcDates {
		s, _ := flags.GetString(d.flag)
		if s == "" {
			continue
		}
		date, err := civil.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.field(req) = date
	}
	req.MAPStrategy, _ = flags.GetString("map-strategy")
	req.KtVModel, _ = flags.GetString("ktv-model")
	return req, nil
}

func formatMetric(res *calculator.MetricResult) string {
	var s string
	switch v := res.Result.(type) {
	case derived.Value:
		if !v.OK {
			return fmt.Sprintf("%s: unavailable (%s)", res.Metric, v.Reason)
		}
		s = strconv.FormatFloat(v.Value, 'f', -1, 64)
	case derived.Count:
		if !v.OK {
			return fmt.Sprintf("%s: unavailable (%s)", res.Metric, v.Reason)
		}
		s = strconv.Itoa(v.N)
	case derived.Duration:
		if !v.OK {
			return fmt.Sprintf("%s: unavailable (%s)", res.Metric, v.Reason)
		}
		s = fmt.Sprintf("%d months (%d years)", v.Months, v.Years)
	default:
		s = fmt.Sprint(v)
	}
	if res.Status != "" {
		return fmt.Sprintf("%s: %s [%s]", res.Metric, s, res.Status)
	}
	return fmt.Sprintf("%s: %s", res.Metric, s)
}
