package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List available writing skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs := loadSkills().List()
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
		for _, d := range defs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, d.Description)
		}
		return w.Flush()
	},
}
