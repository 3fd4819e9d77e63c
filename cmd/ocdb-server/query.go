package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nlstn/go-ocdb/internal/filter"
	"github.com/nlstn/go-ocdb/internal/query"
	"github.com/nlstn/go-ocdb/internal/store"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expr>",
		Short: "Parse a query and print its canonical form",
		Long: `Parses the query expression and prints it back in canonical form, with
parentheses wherever operator precedence requires them.
Example) ocdb-server parse 'a OR b AND NOT c'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if q == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), q.String())
			return nil
		},
	}
}

func newCompileCmd() *cobra.Command {
	var dialect string

	cmd := &cobra.Command{
		Use:   "compile <expr>",
		Short: "Print the MongoDB filter and SQL condition of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dialect != "sqlite" && dialect != "postgres" {
				return fmt.Errorf("unsupported dialect %q", dialect)
			}
			q, err := query.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			f, err := filter.Compile(q)
			if err != nil {
				return err
			}

			mongo, err := filter.ToExtJSON(f)
			if err != nil {
				return err
			}
			sql, sqlArgs := filter.ToSQL(f, store.Schema, dialect)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "mongo:", mongo)
			fmt.Fprintln(out, "sql:  ", sql)
			fmt.Fprintln(out, "args: ", sqlArgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "sqlite", "SQL dialect: sqlite or postgres")
	return cmd
}
