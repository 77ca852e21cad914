package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

func newSchemaCommand(opts *options) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the tables questions are answered from, or describe one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadWithLogger("warn")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rs, err := loadRules(cfg)
			if err != nil {
				return err
			}
			pool, cat, err := connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if table != "" {
				return printTable(cmd.OutOrStdout(), cat, rs, table)
			}
			printTables(cmd.OutOrStdout(), cat, rs)
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "describe one table's columns")
	return cmd
}

// printTables lists every visible table with its class.
func printTables(out io.Writer, cat *catalog.Catalog, rs *rules.RuleSet) {
	bold := color.New(color.Bold)
	for _, t := range cat.Tables() {
		name := t.QualifiedName()
		if rs.IsBanned(name) {
			continue
		}
		bold.Fprint(out, name)
		if class := rs.TableClass(name); class != "" {
			color.New(color.Faint).Fprintf(out, " (%s)", class)
		}
		fmt.Fprintf(out, "  %d columns\n", len(t.Columns))
	}
}

// printTable describes one table. Banned tables are reported as missing.
func printTable(out io.Writer, cat *catalog.Catalog, rs *rules.RuleSet, name string) error {
	t, ok := cat.Table(name)
	if !ok || rs.IsBanned(t.QualifiedName()) {
		return fmt.Errorf("no table named %q", name)
	}

	color.New(color.Bold).Fprintln(out, t.QualifiedName())
	for _, c := range t.Columns {
		var marks []string
		if c.PrimaryKey {
			marks = append(marks, "pk")
		}
		if !c.Nullable {
			marks = append(marks, "not null")
		}
		line := fmt.Sprintf("  %-24s %-10s", c.Name, c.Type.Label())
		if len(marks) > 0 {
			line += " " + strings.Join(marks, ", ")
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
	for _, fk := range t.ForeignKeys {
		color.New(color.Faint).Fprintf(out, "  %s → %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
	}
	return nil
}
