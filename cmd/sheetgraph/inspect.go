package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"sheetgraph/internal/loader"
	"sheetgraph/internal/probe"
)

func (a *app) inspectCmd() *cobra.Command {
	var uniqueness, asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [dataset]",
		Short: "Profile a converted dataset (directory or one .parquet file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				ds := resolveDataSource(a.cfg)
				a.logger.Printf("inspect: data source origin=%s path=%s", ds.Origin, ds.Path)
				path = ds.Path
			}

			ds, err := loader.Load(cmd.Context(), path)
			if err != nil {
				return &exitError{code: 1, err: err}
			}

			switch {
			case uniqueness:
				fmt.Fprintln(a.stdout, probe.FormatUniquenessReport(ds.SchemaTables()))
			case asJSON:
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"path":          ds.Path,
					"tables":        ds.Names,
					"relationships": ds.Relationships,
					"profile":       ds.Profile,
				})
			default:
				printProfile(a, ds)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&uniqueness, "uniqueness", false, "print per-column uniqueness instead of the profile")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

func printProfile(a *app, ds *loader.Dataset) {
	w := a.stdout
	p := ds.Profile
	fmt.Fprintf(w, "dataset=%s tables=%d rows=%d columns=%d relationships=%d\n",
		ds.Path, len(p.Tables), p.TotalRows, p.TotalColumns, len(ds.Relationships))
	if ds.Descriptor == nil {
		fmt.Fprintln(w, "no descriptor: key and relationship metadata unavailable")
	}
	for _, t := range p.Tables {
		fmt.Fprintf(w, "table=%s rows=%d columns=%d duplicate_rows=%d", t.Name, t.Rows, t.Columns, t.DuplicateRows)
		if t.PrimaryKey != "" {
			fmt.Fprintf(w, " primary_key=%s", t.PrimaryKey)
		}
		fmt.Fprintln(w)

		cols := make([]string, 0, len(t.Temporal))
		for c := range t.Temporal {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			r := t.Temporal[c]
			fmt.Fprintf(w, "  temporal column=%s min=%s max=%s\n", c, r.Min.Format(time.RFC3339), r.Max.Format(time.RFC3339))
		}
	}
	for _, e := range ds.Relationships {
		fmt.Fprintf(w, "relationship %s.%s -> %s.%s cardinality=%s confidence=%.2f\n",
			e.FromTable, e.FromColumn, e.ToTable, e.ToColumn, e.Cardinality, e.Confidence)
	}
}
