package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"safeguard/internal/config"
	"safeguard/internal/engine"
	"safeguard/internal/geofence"
	"safeguard/internal/ingest"
	"safeguard/internal/model"
	"safeguard/internal/normalize"
	"safeguard/internal/registry"
)

type scoreLine struct {
	Line     int               `json:"line"`
	DeviceID string            `json:"device_id,omitempty"`
	Score    model.ScoreResult `json:"score"`
	Alerts   []model.Alert     `json:"alerts"`
}

type scoreFailure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

func newScoreCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "score [file]",
		Short: "Score telemetry records offline",
		Long: "Reads JSON, CSV or key=value records, one per line, from file or stdin\n" +
			"and prints one JSON result per record. No state is kept between records.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			logger := flags.logger(cfg)

			m, err := registry.LoadModels(cfg.Models.AnomalyPath, cfg.Models.RiskPath, cfg.Models.AnomalyConfidenceScale)
			if err != nil {
				return err
			}
			reg := registry.New(logger)
			if err := reg.Swap(m); err != nil {
				return err
			}
			zones := geofence.NewEvaluator(logger)
			if cfg.Zones.File != "" {
				list, err := geofence.LoadZonesFile(cfg.Zones.File)
				if err != nil {
					return err
				}
				if err := zones.Replace(list); err != nil {
					return err
				}
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return scoreStream(in, cmd.OutOrStdout(), engine.NewPipeline(reg, zones), mgr.Get())
		},
	}
}

func scoreStream(in io.Reader, out io.Writer, pipeline *engine.Pipeline, cfg *config.Config) error {
	enc := json.NewEncoder(out)
	parser := ingest.NewParser()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	failed := 0
	for n := 1; scanner.Scan(); n++ {
		fields, err := parser.ParseLine(scanner.Text())
		if err == nil && fields == nil {
			continue
		}
		var s model.TelemetrySample
		if err == nil {
			s, err = normalize.Normalize(*fields, cfg)
		}
		var res engine.Result
		if err == nil {
			res, err = pipeline.Score(s)
		}
		if err != nil {
			failed++
			if encErr := enc.Encode(scoreFailure{Line: n, Error: err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}
		if err := enc.Encode(scoreLine{Line: n, DeviceID: s.DeviceID, Score: res.Score, Alerts: res.Alerts}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d record(s) failed", failed)
	}
	return nil
}
