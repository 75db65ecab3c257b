package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"minedetect/mine"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feature ranges, soil options and the class distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		detector, err := mine.Build(buildConfig(cfg), mine.WithLogger(logger))
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), detector)
		return nil
	},
}

func printStats(out io.Writer, detector *mine.Detector) {
	params := detector.Parameters()
	stats := detector.Dataset().Stats

	fmt.Fprintf(out, "Samples: %d (%d rows read, %d rejected)\n", params.Samples, stats.TotalProcessed, stats.Rejected)
	fmt.Fprintf(out, "Voltage: %g .. %g (default %g)\n", params.Voltage.Min, params.Voltage.Max, params.Voltage.Default)
	fmt.Fprintf(out, "Height:  %g .. %g (default %g)\n", params.Height.Min, params.Height.Max, params.Height.Default)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSOIL\tDESCRIPTION")
	for _, s := range params.SoilOptions {
		fmt.Fprintf(w, "%g\t%s\n", s.Code, s.Name)
	}
	fmt.Fprintln(w, "\nCLASS\tMINE TYPE\tSAMPLES")
	for _, c := range detector.Distribution() {
		fmt.Fprintf(w, "%d\t%s\t%d\n", c.Class, c.Name, c.Count)
	}
	w.Flush()
}
