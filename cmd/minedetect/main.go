package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"minedetect/config"
	"minedetect/logging"
	"minedetect/mine"
	"minedetect/ml"
	"minedetect/pipeline"
)

const defaultConfigPath = "config.yaml"

var (
	// Global flags
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "minedetect",
	Short: "Passive mine type detection from magnetic sensor readings",
	Long: `minedetect trains a random forest on the mine sensor dataset at startup
and predicts the mine type for a voltage, height and soil reading.

The model is fitted once per process and never persisted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, logLevel, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig falls back to the defaults when the default file is absent.
// An explicitly requested file must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	c, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return c, err
}

func buildConfig(c *config.Config) mine.BuildConfig {
	return mine.BuildConfig{
		Dataset: pipeline.LoaderConfig{
			Path:     c.Dataset.Path,
			Encoding: c.Dataset.Encoding,
		},
		ModelType: c.Model.Type,
		Forest: ml.ForestConfig{
			Trees:           c.Model.Trees,
			MaxDepth:        c.Model.MaxDepth,
			MinSamplesSplit: c.Model.MinSamplesSplit,
			MaxFeatures:     c.Model.MaxFeatures,
			Seed:            c.Model.Seed,
		},
	}
}
