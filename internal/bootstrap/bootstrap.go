// Package bootstrap wires configuration into a ready Counselor and handler
// for the Lambda and CLI entrypoints.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"loan-counselor/handler"
	"loan-counselor/internal/config"
	"loan-counselor/internal/integrations/gemini"
	"loan-counselor/internal/integrations/openai"
	"loan-counselor/internal/integrations/paramstore"
	"loan-counselor/internal/lenders"
	"loan-counselor/internal/repository"
	"loan-counselor/internal/transcript"
	"loan-counselor/internal/usecase"
	"loan-counselor/internal/workpool"
)

type App struct {
	Config    config.Config
	Counselor *usecase.Counselor
	Handler   *handler.Handler
	// Archive is nil when ARCHIVE_TABLE is unset.
	Archive *repository.Client
}

// New builds the application. AWS configuration is loaded only when a
// parameter prefix or archive table is configured.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		params  paramstore.Getter
		archive *repository.Client
	)
	if cfg.ParamPrefix != "" || cfg.ArchiveTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("bootstrap: create SSM client: %w", err)
			}
			params = ps
		}
		if cfg.ArchiveTable != "" {
			archive, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ArchiveTable)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: create archive client: %w", err)
			}
		}
	}

	model, err := newModel(cfg, params)
	if err != nil {
		return nil, err
	}

	var archiver usecase.Archiver
	if archive != nil {
		archiver = archive
	}
	app, err := assemble(cfg, model, archiver, logger)
	if err != nil {
		return nil, err
	}
	app.Archive = archive
	return app, nil
}

// LambdaHandler serves one API Gateway request and returns only after the
// counselor's background archive writes have finished. Lambda freezes the
// execution environment once the handler returns.
func (a *App) LambdaHandler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	defer a.Counselor.Wait()
	return a.Handler.Handle(ctx, req)
}

// assemble builds the counselor and handler around an existing model.
func assemble(cfg config.Config, model usecase.Completer, archive usecase.Archiver, logger *slog.Logger) (*App, error) {
	catalog, err := LoadCatalog(cfg.LendersFile)
	if err != nil {
		return nil, err
	}

	store := transcript.New(
		transcript.WithMaxEntries(cfg.MaxTranscriptEntries),
		transcript.WithLogger(logger),
	)

	turnPool := workpool.New("turn", cfg.TurnWorkers)
	requestPool := workpool.New("request", cfg.RequestWorkers)

	opts := []usecase.Option{
		usecase.WithPool(turnPool),
		usecase.WithModelTimeout(cfg.ModelTimeout),
		usecase.WithLogger(logger),
		usecase.WithMaxMessageLength(cfg.MaxMessageLength),
		usecase.WithResetKeyword(cfg.ResetKeyword),
	}
	if archive != nil {
		opts = append(opts, usecase.WithArchive(archive))
	}
	counselor, err := usecase.NewCounselor(model, catalog, store, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create counselor: %w", err)
	}

	h, err := handler.NewHandler(counselor,
		handler.WithRequestPool(requestPool),
		handler.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create handler: %w", err)
	}

	logger.Info("counselor ready",
		"provider", cfg.ModelProvider,
		"lenders", catalog.Len(),
		"turn_workers", turnPool.Size(),
		"request_workers", requestPool.Size(),
		"archive", archive != nil,
	)

	return &App{Config: cfg, Counselor: counselor, Handler: h}, nil
}

// LoadCatalog reads the lender catalog from path, or the built-in catalog
// when path is empty.
func LoadCatalog(path string) (*lenders.Catalog, error) {
	if path == "" {
		catalog, err := lenders.Default()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load built-in lenders: %w", err)
		}
		return catalog, nil
	}
	catalog, err := lenders.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load lenders file: %w", err)
	}
	return catalog, nil
}

func newModel(cfg config.Config, params paramstore.Getter) (usecase.Completer, error) {
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.ModelName),
			openai.WithTemperature(cfg.ModelTemperature),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
		}
		client, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create OpenAI client: %w", err)
		}
		return client, nil
	case config.ProviderGemini:
		opts := []gemini.Option{
			gemini.WithModel(cfg.ModelName),
			gemini.WithTemperature(float32(cfg.ModelTemperature)),
		}
		if cfg.GeminiAPIKey != "" {
			opts = append(opts, gemini.WithAPIKey(cfg.GeminiAPIKey))
		} else if params != nil {
			opts = append(opts, gemini.WithParamStore(params, cfg.ParamPrefix))
		}
		client, err := gemini.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create Gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown model provider %q", cfg.ModelProvider)
	}
}
