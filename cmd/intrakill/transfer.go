package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/TemirkhanN/intrakill/store"
	"github.com/TemirkhanN/intrakill/transfer"
	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Serve the vault to peers on the local network until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exporter, err := transfer.NewExporter(a.vault, a.credentials, transfer.ExporterParams{
				GracePeriod:           a.cfg.Export.GracePeriod,
				ShutdownTimeout:       a.cfg.Export.ShutdownTimeout,
				AuthAttemptsPerSecond: a.cfg.Export.AuthAttemptsPerSecond,
				AuthAttemptBurst:      a.cfg.Export.AuthAttemptBurst,
			})
			if err != nil {
				return err
			}

			password, err := a.password("Vault password: ")
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer func() {
				if err := a.vault.Close(); err != nil {
					log.WithError(err).Error("Failed to close vault")
				}
			}()

			if err := exporter.Start(runCtx, password, a.cfg.Export.Port, a.onExportSignal); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Serving vault on %s, interrupt to stop\n", exporter.Addr())

			<-runCtx.Done()

			stopCtx, cancel := context.WithTimeout(
				context.Background(), a.cfg.Export.GracePeriod+a.cfg.Export.ShutdownTimeout,
			)
			defer cancel()
			return exporter.Stop(stopCtx)
		},
	}

	cmd.Flags().Int("port", 0, "TCP port, defaults to export.port")

	return cmd
}

// onExportSignal report export progress
func (a *app) onExportSignal(sig transfer.ExportSignal) {
	switch sig.Type {
	case transfer.ExportSignalBegun:
		fmt.Fprintf(a.out, "%s: sending vault\n", sig.Peer)
	case transfer.ExportSignalEnd:
		fmt.Fprintf(a.out, "%s: sent %s\n", sig.Peer, humanize.Bytes(uint64(sig.Bytes)))
	case transfer.ExportSignalFailed:
		log.WithError(sig.Err).WithField("peer", sig.Peer).Error("Export failed")
		fmt.Fprintf(a.out, "%s: failed after %s\n", sig.Peer, humanize.Bytes(uint64(sig.Bytes)))
	}
}

func newImportCmd(a *app) *cobra.Command {
	var ip string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the vault with the vault of a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			importer, err := transfer.NewImporter(a.vault, a.credentials, transfer.ImporterParams{
				ConnectTimeout: a.cfg.Import.ConnectTimeout,
				ReadTimeout:    a.cfg.Import.ReadTimeout,
				TempDir:        a.cfg.Vault.TempDir,
			})
			if err != nil {
				return err
			}

			password, err := a.password("Peer vault password: ")
			if err != nil {
				return err
			}

			if err := importer.ImportDatabase(cmd.Context(), ip, a.cfg.Export.Port, password); err != nil {
				return a.report(err)
			}
			defer func() {
				if err := a.vault.Close(); err != nil {
					log.WithError(err).Error("Failed to close vault")
				}
			}()

			count, err := a.vault.CountEntries(cmd.Context(), store.EntryFilter{})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d entries from %s\n", count, ip)
			return nil
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "peer IPv4 address on the local network")
	cmd.Flags().Int("port", 0, "peer port, defaults to export.port")
	_ = cmd.MarkFlagRequired("ip")

	return cmd
}
