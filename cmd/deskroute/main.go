package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raykavin/deskroute/internal/config"
	"github.com/raykavin/deskroute/pkg/core"
	"github.com/raykavin/deskroute/pkg/dispatch"
	"github.com/raykavin/deskroute/pkg/logger"
	zerologger "github.com/raykavin/deskroute/pkg/logger/zerolog"
	"github.com/raykavin/deskroute/pkg/notification"
	"github.com/raykavin/deskroute/pkg/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Command line flags
var (
	// Export command flags
	accountID  string
	sinceDate  string
	outputFile string
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:     "deskroute",
		Short:   "Support assignment engine for Telegram",
		Version: "1.0.0",
	}

	// Add commands
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildExportCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE:  runServe,
	}
}

func buildExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export assignment history to CSV",
		RunE:  runExport,
	}

	// Add flags
	exportCmd.Flags().StringVarP(&accountID, "account", "a", "", "Limit export to one account id")
	exportCmd.Flags().StringVarP(&sinceDate, "since", "s", "", "Start date (e.g. 2026-01-01)")
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "assignments.csv", "Output CSV file")

	return exportCmd
}

// bootstrap loads configuration and wires the storage and controller
func bootstrap() (*config.AppConfig, *dispatch.Controller, core.Store, logger.Logger, error) {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	zl, err := zerologger.NewZerolog(cfg.LogLevel, dateTimeLayout, true, false)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log := zerologger.NewAdapter(zl)

	store, err := storage.FromFile(cfg.StoragePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	controller := dispatch.NewController(store, log, cfg.Settings())
	return cfg, controller, store, log, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, controller, store, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer store.Close()

	if !cfg.Telegram.Enabled {
		return fmt.Errorf("telegram bot is disabled, nothing to serve")
	}

	options := make([]notification.Option, 0, 1)
	if cfg.Mail.Enabled {
		options = append(options, notification.WithEscalation(notification.NewMail(notification.MailParams{
			SMTPServerAddress: cfg.Mail.Host,
			SMTPServerPort:    cfg.Mail.Port,
			From:              cfg.Mail.From,
			To:                cfg.Mail.To,
			Password:          cfg.Mail.Password,
		})))
	}

	bot, err := notification.NewTelegram(controller, cfg.Settings(), options...)
	if err != nil {
		return err
	}

	bot.Start()
	log.Info("deskroute serving")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	return nil
}

func runExport(_ *cobra.Command, _ []string) error {
	_, controller, store, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer store.Close()

	filter := dispatch.HistoryFilter{AccountID: accountID}
	if sinceDate != "" {
		since, err := time.Parse(dateLayout, sinceDate)
		if err != nil {
			return fmt.Errorf("invalid --since date: %w", err)
		}
		filter.Since = since
	}

	records, err := controller.History(context.Background(), filter)
	if err != nil {
		return err
	}

	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"id", "requester_id", "requester_handle", "account_id", "method", "created_at"}); err != nil {
		return err
	}

	progressBar := progressbar.Default(int64(len(records)))
	for _, record := range records {
		err := writer.Write([]string{
			record.ID,
			record.RequesterID,
			record.RequesterHandle,
			record.AccountID,
			string(record.Method),
			record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}

		if err := progressBar.Add(1); err != nil {
			break
		}
	}

	log.Infof("exported %d records to %s", len(records), outputFile)
	return nil
}
