package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/orderdispatch/app"
	"github.com/kilianp07/orderdispatch/pkg/export"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export ORDER_ID",
	Short: "Export the shipment schedule of an order",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format ("+strings.Join(export.Formats, "|")+")")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (stdout when empty)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the export only reads the store
	cfg.MQTT.Enabled = false
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	ships, err := svc.Engine.ShipmentsOfOrder(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("shipments of %s: %w", args[0], err)
	}
	w := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return export.Write(w, exportFormat, ships)
}
