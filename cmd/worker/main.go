package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/dispatch"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/importer"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	campaignID := flag.String("campaign", "", "campaign id to dispatch (optional)")
	recipientsCSV := flag.String("recipients", "", "CSV file of campaign recipients")
	subject := flag.String("subject", "", "campaign subject template")
	htmlFile := flag.String("html", "", "campaign HTML body template file")
	textFile := flag.String("text", "", "campaign plain-text body template file (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	st, cleanup, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer cleanup()

	provider, err := delivery.NewSESProvider(context.Background(), delivery.SESConfig{
		Region:    cfg.SES.Region,
		AccessKey: cfg.SES.AccessKey,
		SecretKey: cfg.SES.SecretKey,
	})
	if err != nil {
		log.Fatalf("Failed to initialize SES provider: %v", err)
	}

	dispatchSvc := dispatch.NewService(st, provider, dispatch.Options{
		Identity: dispatch.SenderIdentity{
			FromName:  cfg.SES.FromName,
			FromEmail: cfg.SES.FromEmail,
			ReplyTo:   cfg.SES.ReplyTo,
		},
		InsertDelay: cfg.Dispatch.InsertDelay(),
	})
	runner := dispatch.NewRunner(dispatchSvc, render.NewRenderer())
	runner.SetSendDelay(cfg.Dispatch.SendDelay())

	var mirror *importer.ProgressMirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = importer.NewProgressMirror(rdb)
	}
	jobs := importer.NewJobs(st)
	chunks := importer.NewChunkProcessor(jobs, st, importer.NewDirSource(cfg.Importer.UploadDir), mirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go resumeImports(ctx, jobs, chunks, cfg.Importer.ResumeInterval())
	logger.Info("import advancer started", "interval", cfg.Importer.ResumeInterval().String())

	if *campaignID != "" {
		content, err := loadContent(*subject, *htmlFile, *textFile)
		if err != nil {
			log.Fatalf("Failed to load campaign content: %v", err)
		}
		candidates, err := loadRecipients(ctx, *recipientsCSV)
		if err != nil {
			log.Fatalf("Failed to load recipients: %v", err)
		}
		go runCampaign(ctx, runner, *campaignID, candidates, cfg.Dispatch.BatchSize, content)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	logger.Info("worker shutting down")
	cancel()
}

// runCampaign drains a candidate list in batches until every recipient is
// claimed, then exits. Each pass reserves at most batchSize recipients;
// already-claimed candidates come back as silent duplicate skips, so
// repeated passes converge.
func runCampaign(ctx context.Context, runner *dispatch.Runner, campaignID string, candidates []domain.Recipient, batchSize int, content dispatch.Content) {
	logger.Info("campaign run starting",
		"campaign_id", campaignID,
		"candidates", len(candidates),
		"batch_size", batchSize)

	for {
		if ctx.Err() != nil {
			return
		}
		report, err := runner.RunBatch(ctx, campaignID, candidates, batchSize, content)
		if err != nil {
			logger.Error("campaign batch aborted", "campaign_id", campaignID, "error", err.Error())
			return
		}
		logger.Info("campaign batch done",
			"campaign_id", campaignID,
			"reserved", report.Reserved,
			"skipped_duplicates", report.SkippedDuplicates,
			"sent", report.Sent,
			"bounced", report.Bounced,
			"send_failures", report.SendFail)

		if report.Reserved == 0 {
			logger.Info("campaign run complete", "campaign_id", campaignID)
			return
		}
	}
}

// resumeImports periodically advances auto-resume jobs that still have
// work left. Each tick does at most one chunk per job.
func resumeImports(ctx context.Context, jobs *importer.Jobs, chunks *importer.ChunkProcessor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, status := range []domain.ImportStatus{domain.ImportPending, domain.ImportProcessing} {
			list, _, err := jobs.List(ctx, store.ImportJobQuery{Status: status})
			if err != nil {
				logger.Warn("list import jobs failed", "error", err.Error())
				continue
			}
			for i := range list {
				job := &list[i]
				if !job.AutoResume {
					continue
				}
				if _, err := chunks.Advance(ctx, job.ID); err != nil {
					logger.Warn("advance import job failed", "job_id", job.ID, "error", err.Error())
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func loadContent(subject, htmlFile, textFile string) (dispatch.Content, error) {
	var content dispatch.Content
	if subject == "" || htmlFile == "" {
		return content, fmt.Errorf("-subject and -html are required with -campaign")
	}
	html, err := os.ReadFile(htmlFile)
	if err != nil {
		return content, fmt.Errorf("read html template: %w", err)
	}
	content.Subject = subject
	content.HTML = string(html)
	if textFile != "" {
		text, err := os.ReadFile(textFile)
		if err != nil {
			return content, fmt.Errorf("read text template: %w", err)
		}
		content.Text = string(text)
	}
	return content, nil
}

// loadRecipients reads the campaign candidate list from a headered CSV,
// reusing the import item reader.
func loadRecipients(ctx context.Context, path string) ([]domain.Recipient, error) {
	if path == "" {
		return nil, fmt.Errorf("-recipients is required with -campaign")
	}
	total, err := importer.CountCSVItems(path)
	if err != nil {
		return nil, err
	}
	items, err := importer.NewCSVSource(path).Items(ctx, 0, total)
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(items))
	for _, item := range items {
		if !domain.ValidEmail(item.Email) {
			logger.Debug("skipping invalid candidate", "email", item.Email)
			continue
		}
		recipients = append(recipients, domain.Recipient{
			ID:        domain.NormalizeEmail(item.Email),
			Email:     domain.NormalizeEmail(item.Email),
			FirstName: item.FirstName,
			LastName:  item.LastName,
			Fields:    item.Fields,
		})
	}
	return recipients, nil
}

// buildStore constructs the configured store backend. The returned cleanup
// closes any underlying connections.
func buildStore(cfg *config.Config) (store.Client, func(), error) {
	switch cfg.Store.Backend {
	case "dynamodb":
		st, err := store.NewDynamo(context.Background(), store.DynamoConfig{
			Table:     cfg.Store.DynamoDB.Table,
			Region:    cfg.Store.DynamoDB.Region,
			Profile:   cfg.Store.DynamoDB.AWSProfile,
			AccessKey: cfg.Store.DynamoDB.AccessKey,
			SecretKey: cfg.Store.DynamoDB.SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.Postgres.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.Store.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Store.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return store.NewPostgres(db), func() { db.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}
