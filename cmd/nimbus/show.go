package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Enroll if needed and print experiments, bucket and enrollments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, cleanup, err := a.newEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "randomization unit: %s\n", engine.RandomizationUnit())
			fmt.Fprintf(out, "bucket: %d (cached: %t)\n\n", engine.GetBucket(), engine.IsCached())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXPERIMENT\tRANGE\tBRANCHES\tENROLLED")
			for _, e := range engine.GetExperiments() {
				cfg := e.BucketConfig()
				slugs := make([]string, 0, len(e.Branches()))
				for _, b := range e.Branches() {
					slugs = append(slugs, b.Slug)
				}
				enrolled := "-"
				if branch, ok := engine.LookupBranch(e.ID); ok {
					enrolled = branch
				}
				fmt.Fprintf(tw, "%s\t[%d, %d)\t%s\t%s\n",
					e.ID, cfg.Start, uint64(cfg.Start)+uint64(cfg.Count), strings.Join(slugs, ","), enrolled)
			}
			return tw.Flush()
		},
	}
}
