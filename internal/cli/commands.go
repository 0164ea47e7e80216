package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"receipts/internal/amqp"
	"receipts/internal/config"
	"receipts/internal/core"
	apphttp "receipts/internal/http"
	"receipts/internal/log"
	"receipts/internal/services"
	"receipts/internal/storage"
	"receipts/internal/worker"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	cfg    *config.Config
	logger *log.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "receipts",
		Short: "Turn receipt screenshots into ledger rows",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			LoadEnvFile()
			cfg, err := LoadAndValidateConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = SetupLogger(cfg)
			return nil
		},
	}

	rootCmd.AddCommand(
		a.newServeCommand(),
		a.newMigrateCommand(),
		a.newRecognizeCommand(),
		a.newListCommand(),
		a.newExportCommand(),
	)
	return rootCmd
}

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := SignalContext()
			defer stop()
			return a.runServe(ctx)
		},
	}
}

func (a *app) runServe(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	registry, repo, err := OpenRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	rec, err := NewRecognizer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}

	opts := []services.Option{services.WithMaxWidth(cfg.ImageMaxWidth)}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			// saving still works; the worker's full export catches up later
			logger.Error("AMQP unavailable, receipt events disabled", log.FieldError, err)
		} else {
			opts = append(opts, services.WithPublisher(client))
		}
	}
	svc := services.NewReceiptService(repo, rec, logger.WithComponent(log.ComponentReceipt).Slog(), opts...)
	defer svc.Close()

	srv, err := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		UploadMaxBytes: cfg.UploadMaxBytes,
		RateLimit:      cfg.RateLimit,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting receipts server", log.FieldOperation, log.OpStartup, "port", cfg.Port, "driver", cfg.DBDriver, "llm_provider", cfg.LLMProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server", log.FieldOperation, log.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func (a *app) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := Credentials(a.cfg)
			if err := storage.RunMigrations(creds); err != nil {
				return err
			}
			a.logger.Info("Migrations applied", "driver", creds.Driver)
			return nil
		},
	}
}

func (a *app) newRecognizeCommand() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Read one receipt image and print the extracted fields as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			rec, err := NewRecognizer(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("create recognizer: %w", err)
			}
			svc := services.NewReceiptService(nil, rec, a.logger.WithComponent(log.ComponentReceipt).Slog(),
				services.WithMaxWidth(a.cfg.ImageMaxWidth))

			ext, err := svc.Recognize(cmd.Context(), data)
			if err != nil {
				return err
			}
			if !preview {
				ext.PreviewImage = ""
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(ext)
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "include the resized image as a data URI")
	return cmd
}

func (a *app) newListCommand() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print one page of receipts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, repo, err := OpenRepository(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer registry.Close()

			svc := services.NewReceiptService(repo, nil, a.logger.WithComponent(log.ComponentReceipt).Slog())
			p, err := svc.List(cmd.Context(), page)
			if err != nil {
				return err
			}
			return printPage(cmd, p)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, 1-based")
	return cmd
}

func printPage(cmd *cobra.Command, p services.Page) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tINCOME\tEXPENSE\tAPP\tPLATFORM\tCATEGORY\tMEMO")
	for _, rc := range p.Receipts {
		v := rc.Values()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rc.ID, v[core.ColTransactionTime], v[core.ColIncomeAmount], v[core.ColExpenseAmount],
			rc.TransactionApp, rc.PaymentPlatform, rc.Category, rc.Memo)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "\npage %d: %d receipts, income %s, expense %s, net %s\n",
		p.Number, p.Summary.Count,
		p.Summary.Income.StringFixed(2),
		p.Summary.Expense.StringFixed(2),
		p.Summary.Net().StringFixed(2))
	return err
}

func (a *app) newExportCommand() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every stored receipt to the Google Sheet once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := SignalContext()
			defer stop()

			registry, repo, err := OpenRepository(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer registry.Close()

			w, err := newExportWorker(ctx, a.cfg, repo, a.logger)
			if err != nil {
				return err
			}
			if verify {
				d, err := w.Verify(ctx)
				if err != nil {
					return err
				}
				return printDrift(cmd, d)
			}
			exported, failed, err := w.ExportAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d receipts, %d failed\n", exported, failed)
			if failed > 0 {
				return fmt.Errorf("%d receipts failed to export", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "compare the sheet with the database instead of exporting")
	return cmd
}

// printDrift reports ledger differences and fails when there are any.
func printDrift(cmd *cobra.Command, d worker.Drift) error {
	out := cmd.OutOrStdout()
	if d.Empty() {
		_, err := fmt.Fprintln(out, "sheet matches the database")
		return err
	}
	for _, line := range []struct {
		label string
		ids   []int64
	}{
		{"missing from sheet", d.Missing},
		{"out of date", d.Changed},
		{"not in database", d.Orphans},
	} {
		if len(line.ids) > 0 {
			fmt.Fprintf(out, "%s: %v\n", line.label, line.ids)
		}
	}
	return fmt.Errorf("sheet differs from database: %d missing, %d out of date, %d orphaned",
		len(d.Missing), len(d.Changed), len(d.Orphans))
}
