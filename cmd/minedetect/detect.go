package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"minedetect/mine"
)

var (
	detectVoltage float64
	detectHeight  float64
	detectSoil    float64
)

// detectCmd runs a single detection
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Predict the mine type for one reading",
	Long: `Fits the classifier and predicts one reading.

Flags that are not given default to the midpoint of the training range
(voltage, height) or the first soil code observed in the dataset.

Example:
  minedetect detect --voltage 0.34 --height 0.27 --soil 0.6`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().Float64Var(&detectVoltage, "voltage", 0, "Sensor output voltage (V)")
	detectCmd.Flags().Float64Var(&detectHeight, "height", 0, "Sensor height above ground (H)")
	detectCmd.Flags().Float64Var(&detectSoil, "soil", 0, "Soil type code (S)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	detector, err := mine.Build(buildConfig(cfg), mine.WithLogger(logger))
	if err != nil {
		return err
	}

	req := detector.DefaultRequest()
	if cmd.Flags().Changed("voltage") {
		req.Voltage = detectVoltage
	}
	if cmd.Flags().Changed("height") {
		req.Height = detectHeight
	}
	if cmd.Flags().Changed("soil") {
		req.Soil = detectSoil
	}

	detection, err := detector.Detect(cmd.Context(), req)
	if err != nil {
		return err
	}
	printDetection(cmd.OutOrStdout(), detection)
	return nil
}

func printDetection(w io.Writer, d *mine.Detection) {
	soil, ok := mine.SoilTypeName(d.Request.Soil)
	if !ok {
		soil = "unknown soil"
	}
	fmt.Fprintf(w, "Input:      voltage=%g height=%g soil=%g (%s)\n", d.Request.Voltage, d.Request.Height, d.Request.Soil, soil)
	fmt.Fprintf(w, "Prediction: %s (class %d, confidence %.2f)\n", d.Name, d.Class, d.Confidence)
	if d.Advisory.OutOfRange {
		fmt.Fprintf(w, "Warning:    %s\n", d.Advisory.Message)
	}
}
