package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inkwell/internal/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage local completion models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported models and their download state",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		mgr, err := buildManager(settings)
		if err != nil {
			return err
		}
		defer mgr.Close()

		records := make(map[string]model.Record)
		list, err := mgr.List()
		if err != nil {
			return err
		}
		for _, r := range list {
			records[r.ID] = r
		}
		active, hasActive := mgr.Active()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tSTATUS")
		for _, e := range model.Catalog() {
			status := "not downloaded"
			if r, ok := records[e.ID]; ok {
				status = string(r.Status)
				if r.Status == model.StatusError && r.Error != "" {
					status = fmt.Sprintf("error (%s)", r.Error)
				}
			}
			if hasActive && active.ID == e.ID {
				status += " *active*"
			}
			fmt.Fprintf(w, "%s\t%s\t%.1f MB\t%s\n", e.ID, e.Name, float64(e.SizeBytes)/(1024*1024), status)
		}
		return w.Flush()
	},
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull <id>",
	Short: "Download and verify a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		mgr, err := buildManager(settings)
		if err != nil {
			return err
		}
		defer mgr.Close()

		rec, err := mgr.Pull(cmd.Context(), args[0], func(p model.Progress) {
			if p.Total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%d/%d bytes)",
					p.ModelID, float64(p.Received)/float64(p.Total)*100, p.Received, p.Total)
			} else {
				fmt.Fprintf(os.Stderr, "\r%s: %d bytes", p.ModelID, p.Received)
			}
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("%s ready (%d bytes, verified)\n", rec.ID, rec.SizeBytes)
		return nil
	},
}

var modelsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a model's artifact and record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		mgr, err := buildManager(settings)
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s removed\n", args[0])
		return nil
	},
}

var modelsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a downloaded model the active completion model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		mgr, err := buildManager(settings)
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Use(args[0]); err != nil {
			return err
		}
		fmt.Printf("active model: %s\n", args[0])
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsRemoveCmd)
	modelsCmd.AddCommand(modelsUseCmd)
}
