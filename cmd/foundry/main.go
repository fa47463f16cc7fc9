package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foundry-ml/foundry-go/internal/artifacts"
	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/execution/orchestrator"
	"github.com/foundry-ml/foundry-go/internal/execution/plan"
	"github.com/foundry-ml/foundry-go/internal/platform/env"
	"github.com/foundry-ml/foundry-go/internal/platform/objectstore"
	"github.com/foundry-ml/foundry-go/internal/platform/postgres"
	"github.com/foundry-ml/foundry-go/internal/repo"
	repopg "github.com/foundry-ml/foundry-go/internal/repo/postgres"
	"github.com/foundry-ml/foundry-go/internal/report"
	"github.com/foundry-ml/foundry-go/internal/tool"
	"github.com/foundry-ml/foundry-go/internal/tool/sim"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	specPath := flag.String("spec", "", "path to the pipeline spec (YAML)")
	inputPath := flag.String("input", "", "path to the input dataset profile (JSON)")
	flag.Parse()
	if *specPath == "" || *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: foundry -spec pipeline.yaml -input dataset.json")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	specRaw, err := os.ReadFile(*specPath)
	if err != nil {
		logger.Error("read pipeline spec", "error", err)
		os.Exit(2)
	}
	spec, err := plan.ParsePipelineSpec(specRaw)
	if err != nil {
		logger.Error("invalid pipeline spec", "error", err)
		os.Exit(2)
	}

	inputRaw, err := os.ReadFile(*inputPath)
	if err != nil {
		logger.Error("read input payload", "error", err)
		os.Exit(2)
	}
	if _, err := domain.DecodeDatasetProfile(inputRaw); err != nil {
		logger.Error("invalid input payload", "error", err)
		os.Exit(2)
	}

	store, err := buildStore(ctx, logger)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	recorder, closeRecorder, err := buildRecorder(ctx, logger)
	if err != nil {
		logger.Error("audit recorder init failed", "error", err)
		os.Exit(1)
	}
	defer closeRecorder()

	tools := tool.NewRegistry()
	if err := sim.Register(tools); err != nil {
		logger.Error("tool registration failed", "error", err)
		os.Exit(2)
	}

	orch, err := orchestrator.New(store, tools,
		orchestrator.WithLogger(logger),
		orchestrator.WithRecorder(recorder),
	)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}

	run, err := orch.Run(ctx, spec, orchestrator.Input{
		Kind:    domain.KindDataset,
		Payload: inputRaw,
	})
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
		if run == nil {
			os.Exit(1)
		}
	}

	rep, err := report.Build(run)
	if err != nil {
		logger.Error("report build failed", "error", err)
		os.Exit(1)
	}
	out, err := report.Encode(rep)
	if err != nil {
		logger.Error("report encode failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	switch run.Outcome {
	case domain.RunOutcomeCompleted:
	case domain.RunOutcomeEscalated:
		os.Exit(3)
	default:
		os.Exit(1)
	}
}

// buildStore selects the artifact backend: in-memory by default, MinIO when
// FOUNDRY_STORE_BACKEND=minio.
func buildStore(ctx context.Context, logger *slog.Logger) (artifacts.Store, error) {
	backend := env.String("FOUNDRY_STORE_BACKEND", "memory")
	switch backend {
	case "memory":
		return artifacts.NewMemoryStore(), nil
	case "minio":
		cfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := objectstore.NewMinIOClient(cfg)
		if err != nil {
			return nil, err
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := objectstore.EnsureBucket(startupCtx, client, cfg); err != nil {
			return nil, err
		}
		minioStore, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			return nil, err
		}
		logger.Info("artifact store ready", "backend", "minio", "bucket", cfg.Bucket)
		return artifacts.NewObjectStore(minioStore, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

// buildRecorder wires the Postgres audit trail when FOUNDRY_AUDIT=postgres;
// otherwise records are discarded.
func buildRecorder(ctx context.Context, logger *slog.Logger) (repo.Recorder, func(), error) {
	noop := func() {}
	backend := env.String("FOUNDRY_AUDIT", "none")
	switch backend {
	case "none":
		return repo.NopRecorder{}, noop, nil
	case "postgres":
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, noop, err
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		if err := repopg.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		recorder, err := repopg.NewRecorder(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		logger.Info("audit trail ready", "backend", "postgres")
		return recorder, func() { _ = db.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported audit backend %q", backend)
	}
}
