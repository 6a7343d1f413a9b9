package main

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"statline/internal/catalog"
	"statline/internal/store"
)

func newTablesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the dataset's tables with row counts and columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.OpenFromEnv(flags.dbPath, "")
			if err != nil {
				return err
			}
			defer db.Close()

			cat := catalog.NewService(db, nil)
			tables, err := cat.ListTables(cmd.Context())
			if err != nil {
				return err
			}

			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetHeader([]string{"Table", "Rows", "Columns"})
			tw.SetAutoWrapText(false)
			tw.SetAutoFormatHeaders(false)
			tw.SetBorder(false)
			for _, td := range tables {
				tw.Append([]string{
					td.Name,
					fmt.Sprintf("%d", td.RowCount),
					strings.Join(td.Columns, ", "),
				})
			}
			tw.Render()
			return nil
		},
	}
}
