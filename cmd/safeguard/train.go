package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"safeguard/internal/artifact"
	"safeguard/internal/registry"
	"safeguard/internal/training"
)

func newTrainCmd(flags *globalFlags) *cobra.Command {
	opts := training.DefaultOptions()
	var anomalyOut, riskOut string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build reference model artifacts from synthetic data",
		Long: "Fits the anomaly forest and the risk classifier on seeded synthetic\n" +
			"samples and writes both artifacts. The same seed always yields the same files.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			logger := flags.logger(cfg)
			if anomalyOut == "" {
				anomalyOut = cfg.Models.AnomalyPath
			}
			if riskOut == "" {
				riskOut = cfg.Models.RiskPath
			}

			am, err := training.TrainAnomaly(opts)
			if err != nil {
				return fmt.Errorf("train anomaly model: %w", err)
			}
			rm, err := training.TrainRisk(opts)
			if err != nil {
				return fmt.Errorf("train risk model: %w", err)
			}
			for path, v := range map[string]any{anomalyOut: am, riskOut: rm} {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				if err := artifact.WriteFile(path, v); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
			}

			// Read back through the registry so a bad artifact fails here, not at serve time.
			m, err := registry.LoadModels(anomalyOut, riskOut, cfg.Models.AnomalyConfidenceScale)
			if err != nil {
				return fmt.Errorf("verify artifacts: %w", err)
			}
			logger.Info("artifacts written",
				"anomaly_path", anomalyOut,
				"anomaly_checksum", m.AnomalyVersion.Checksum,
				"risk_path", riskOut,
				"risk_checksum", m.RiskVersion.Checksum,
				"version", opts.Version,
			)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&anomalyOut, "anomaly-out", "", "anomaly artifact path (default models.anomaly_path)")
	f.StringVar(&riskOut, "risk-out", "", "risk artifact path (default models.risk_path)")
	f.StringVar(&opts.Version, "version-tag", opts.Version, "version stamped into both artifacts")
	f.Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	f.IntVar(&opts.AnomalySamples, "anomaly-samples", opts.AnomalySamples, "synthetic movement samples")
	f.IntVar(&opts.RiskSamples, "risk-samples", opts.RiskSamples, "synthetic risk contexts")
	f.IntVar(&opts.AnomalyTrees, "anomaly-trees", opts.AnomalyTrees, "isolation trees")
	f.IntVar(&opts.RiskTrees, "risk-trees", opts.RiskTrees, "classification trees")
	f.Float64Var(&opts.Contamination, "contamination", opts.Contamination, "expected anomaly fraction")
	return cmd
}
