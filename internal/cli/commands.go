package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2/terminal"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"loan-counselor/internal/bootstrap"
	"loan-counselor/internal/config"
	"loan-counselor/internal/domain"
	"loan-counselor/internal/repository"
	"loan-counselor/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// NewRootCmd creates the counselor command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "counselor",
		Short: "Education loan counselor",
		Long: `counselor runs the education loan counseling service.
It can serve the HTTP API locally, chat interactively, list archived
exchanges, or print the lender catalog the counselor recommends from.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newExchangesCmd())
	rootCmd.AddCommand(newLendersCmd())

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	return rootCmd
}

func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (/chat, /reset, /user-report)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cmd, os.Stdout))
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "provider", cfg.ModelProvider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}
	app.Counselor.Wait()
	logger.Info("server stopped")
	return nil
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the counselor in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				userID = uuid.NewString()
			}

			// Logs go to stderr so they do not interleave with the chat.
			app, err := bootstrap.New(cmd.Context(), cfg, newLogger(cmd, os.Stderr))
			if err != nil {
				return err
			}
			defer app.Counselor.Wait()

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderBanner(userID))
			profile, err := PromptForProfile()
			if err != nil {
				return err
			}
			s := &chatSession{
				svc:     app.Counselor,
				userID:  userID,
				profile: profile,
				ask:     PromptForMessage,
				out:     out,
			}
			return s.run(cmd.Context())
		},
	}
	cmd.Flags().String("user", "", "User id for the session (random if empty)")
	return cmd
}

type chatService interface {
	HandleTurn(ctx context.Context, in usecase.TurnInput) (domain.TurnResult, error)
	BuildReport(ctx context.Context, userID string) (domain.Report, error)
}

type chatSession struct {
	svc     chatService
	userID  string
	profile domain.StudentProfile
	ask     func() (string, error)
	out     io.Writer
}

// run reads messages until exit, EOF, or interrupt. Turn failures are shown
// and the session continues.
func (s *chatSession) run(ctx context.Context) error {
	for {
		msg, err := s.ask()
		if errors.Is(err, terminal.InterruptErr) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(msg) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "report":
			report, err := s.svc.BuildReport(ctx, s.userID)
			if err != nil {
				fmt.Fprint(s.out, renderError(err))
				continue
			}
			fmt.Fprint(s.out, renderReport(report))
			continue
		}

		res, err := s.svc.HandleTurn(ctx, usecase.TurnInput{UserID: s.userID, Message: msg, Profile: s.profile})
		if err != nil {
			fmt.Fprint(s.out, renderError(err))
			continue
		}
		fmt.Fprint(s.out, renderTurn(res))
	}
}

type exchangeArchive interface {
	ListExchanges(ctx context.Context, userID string, limit int) ([]domain.Exchange, error)
	ExchangeCount(ctx context.Context, userID string) (int, error)
}

func newExchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges USER_ID",
		Short: "List archived exchanges for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if table, _ := cmd.Flags().GetString("table"); table != "" {
				cfg.ArchiveTable = table
			}
			if cfg.ArchiveTable == "" {
				return errors.New("exchanges: ARCHIVE_TABLE or --table is required")
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("exchanges: load AWS config: %w", err)
			}
			archive, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ArchiveTable)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return listExchanges(cmd.Context(), archive, args[0], limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("table", "", "DynamoDB archive table (overrides ARCHIVE_TABLE)")
	cmd.Flags().Int("limit", 20, "Maximum number of exchanges to list")
	return cmd
}

func listExchanges(ctx context.Context, archive exchangeArchive, userID string, limit int, out io.Writer) error {
	userID = strings.TrimSpace(userID)
	exchanges, err := archive.ListExchanges(ctx, userID, limit)
	if err != nil {
		return err
	}
	total, err := archive.ExchangeCount(ctx, userID)
	if err != nil {
		return err
	}
	// The counter is updated in the same transaction as each exchange, so it
	// can only lag a concurrent write.
	if total < len(exchanges) {
		total = len(exchanges)
	}
	fmt.Fprint(out, renderExchanges(userID, total, exchanges))
	return nil
}

func newLendersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lenders",
		Short: "Print the lender catalog (LENDERS_FILE or the built-in list)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := bootstrap.LoadCatalog(config.FromEnv().LendersFile)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderLenders(catalog.Lenders()))
			return nil
		},
	}
}
