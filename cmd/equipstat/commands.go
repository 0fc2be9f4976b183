package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/report"
)

func newRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "equipstat",
		Short:         "Analyse equipment datasets from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (defaults to built-in settings)")

	loadExtractor := func() (*analysis.EquipmentExtractor, error) {
		cfg := config.Default()
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		return analysis.NewEquipmentExtractor(
			analysis.NewAnalyzer(analysis.NewInferencer(cfg.Analysis.NumericDetectionThreshold)),
			analysis.NewResolver(analysis.RoleSpecsWithOverrides(cfg.Analysis.RoleAliases)),
		), nil
	}

	root.AddCommand(newAnalyzeCommand(loadExtractor), newValidateCommand(loadExtractor))
	return root
}

func newAnalyzeCommand(loadExtractor func() (*analysis.EquipmentExtractor, error)) *cobra.Command {
	var strict, asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Print the statistics report of a csv, xlsx or json file",
		Example: `  equipstat analyze readings.csv
  equipstat analyze --strict --json plant.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extractor, err := loadExtractor()
			if err != nil {
				return err
			}
			table, info, err := readFile(args[0])
			if err != nil {
				return err
			}
			if err := extractor.Validate(table, strict); err != nil {
				return err
			}
			summary, err := extractor.Analyze(table)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			rec := &models.Dataset{
				Name:        strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())),
				FileName:    info.Name(),
				FileType:    strings.TrimPrefix(strings.ToLower(filepath.Ext(info.Name())), "."),
				FileSize:    info.Size(),
				RowCount:    summary.RowCount,
				ColumnCount: summary.ColumnCount,
				Columns:     summary.ColumnInfos(),
				Status:      models.StatusProcessed,
				CreatedAt:   now,
				ProcessedAt: &now,
			}
			rep, err := report.Assemble(rec, summary)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderText(rep))
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "require every equipment column")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newValidateCommand(loadExtractor func() (*analysis.EquipmentExtractor, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a file carries all equipment columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extractor, err := loadExtractor()
			if err != nil {
				return err
			}
			table, _, err := readFile(args[0])
			if err != nil {
				return err
			}
			if err := extractor.Validate(table, true); err != nil {
				return err
			}
			res := extractor.Resolver().Resolve(table.Header)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows, %d columns\n", args[0], table.NumRows(), table.NumColumns())
			for _, spec := range extractor.Resolver().Specs() {
				if header, ok := res.Header(spec.Role); ok {
					fmt.Fprintf(out, "  %-15s -> %s\n", spec.Role, header)
				}
			}
			return nil
		},
	}
}

func readFile(path string) (*analysis.Table, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	fileType, err := analysis.FileTypeFromName(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	table, err := analysis.ReadTable(fileType, data)
	if err != nil {
		return nil, nil, err
	}
	return table, info, nil
}
