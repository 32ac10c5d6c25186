package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/api"
	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/intent"
	"github.com/11996262609/CrossFit-ChatBot/internal/lockfile"
	"github.com/11996262609/CrossFit-ChatBot/internal/media"
	"github.com/11996262609/CrossFit-ChatBot/internal/messaging"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/paramstore"
	"github.com/11996262609/CrossFit-ChatBot/internal/scheduler"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
	"github.com/11996262609/CrossFit-ChatBot/internal/whatsapp"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// DedupPruneSchedule is when old inbound message ids are deleted.
const DedupPruneSchedule = "@daily"

// run wires the bot and blocks until ctx is cancelled.
func run(ctx context.Context, c Config) error {
	lock, err := lockfile.Acquire(c.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if c.SSMParamPrefix != "" {
		if err := applySSMParams(ctx, &c); err != nil {
			return err
		}
	}
	if c.OperatorAddress == "" {
		slog.Warn("No operator address configured; handoff notices and attachments will not be forwarded")
	}

	cat, err := catalog.Load(c.CatalogFile)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	files, err := media.NewFileStore(media.WithBaseDir(c.MediaDir))
	if err != nil {
		return fmt.Errorf("failed to open media directory: %w", err)
	}

	waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(c)...)
	if err != nil {
		return fmt.Errorf("failed to start WhatsApp client: %w", err)
	}
	defer waClient.Disconnect()

	svc := messaging.NewWhatsAppService(waClient)
	clock := flow.SystemClock{}
	sender := messaging.NewTrackingSender(svc, clock)

	flowOpts := buildFlowOptions(c)
	sessions := flow.NewSessionStore(clock)
	handoff := flow.NewHandoffManager(sessions, sender, clock, cat.Keywords.Ack, flowOpts...)
	attachments := flow.NewAttachmentPipeline(sender, svc, files, st, handoff, cat, clock, flowOpts...)
	router := flow.NewRouter(sessions, flow.NewDebounceGuard(clock), intent.NewClassifier(cat), handoff, attachments, sender, cat, clock, flowOpts...)
	followUp := flow.NewFollowUp(st, sender, cat, clock, flowOpts...)

	dispatcher := messaging.NewDispatcher(router, st)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx, svc)
	}()

	sched := scheduler.NewScheduler()
	if _, err := startJobs(ctx, sched, c, followUp, st); err != nil {
		svc.Stop()
		return err
	}

	status := api.NewServer(waClient, api.WithAddr(c.StatusAddr), api.WithToken(c.StatusToken))
	statusErr := make(chan error, 1)
	go func() { statusErr <- status.Run(ctx) }()

	slog.Info("Chatbot running", "operator", c.OperatorAddress, "backoffice", c.BackOfficeAddress)
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-statusErr:
		if err != nil {
			slog.Error("Status server stopped", "error", err)
		}
		<-ctx.Done()
	}

	sched.Stop()
	if err := svc.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	<-dispatchDone
	dispatcher.Wait()
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(c Config) []whatsapp.Option {
	opts := []whatsapp.Option{
		whatsapp.WithDBDSN(c.WhatsAppDBDSN),
		whatsapp.WithLogLevel(whatsmeowLogLevel(c.Debug)),
	}
	if c.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(c.QROutput))
	}
	if c.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildFlowOptions constructs the engine options.
func buildFlowOptions(c Config) []flow.Option {
	opts := []flow.Option{
		flow.WithHandoffSilence(c.HandoffSilence),
		flow.WithTakeoverSilence(c.TakeoverSilence),
		flow.WithAttachmentSilence(c.AttachmentSilence),
		flow.WithBotSendGrace(c.BotSendGrace),
		flow.WithDebounceWindow(c.DebounceWindow),
		flow.WithPendingForwardTTL(c.PendingForwardTTL),
		flow.WithFollowUpThreshold(c.FollowUpThreshold),
		flow.WithTypingDelay(c.TypingDelay),
		flow.WithAddressFilter(whatsapp.IsConversationAddress),
	}
	if addr := canonicalAddress(c.OperatorAddress); addr != "" {
		opts = append(opts, flow.WithOperatorAddress(addr))
	}
	if addr := canonicalAddress(c.BackOfficeAddress); addr != "" {
		opts = append(opts, flow.WithBackOfficeAddress(addr))
	}
	return opts
}

// canonicalAddress turns a phone number or JID into a conversation address.
// Unparseable input is kept verbatim so the transport reports the error.
func canonicalAddress(s string) models.Address {
	if s == "" {
		return ""
	}
	jid, err := whatsapp.ToJID(models.Address(s))
	if err != nil {
		slog.Warn("Address is not a valid WhatsApp number or JID", "address", s, "error", err)
		return models.Address(s)
	}
	return whatsapp.ToAddress(jid)
}

// openStore selects DynamoDB when a table is configured, otherwise
// PostgreSQL or SQLite depending on the DSN.
func openStore(ctx context.Context, c Config) (store.Store, error) {
	if c.DynamoDBTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		slog.Info("Using DynamoDB store", "table", c.DynamoDBTable)
		st, err := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), c.DynamoDBTable)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	if store.DetectDSNType(c.DatabaseDSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(c.DatabaseDSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL store: %w", err)
		}
		return st, nil
	}
	slog.Info("Using SQLite store", "path", c.DatabaseDSN)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(c.DatabaseDSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}
	return st, nil
}

// applySSMParams fills unset addresses and the status token from SSM.
// Values given on the command line or in the environment win.
func applySSMParams(ctx context.Context, c *Config) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	params, err := paramstore.New(ssm.NewFromConfig(awsCfg), c.SSMParamPrefix)
	if err != nil {
		return err
	}
	values, err := params.Resolve(ctx, paramstore.ParamOperatorAddress, paramstore.ParamBackOfficeAddress, paramstore.ParamStatusToken)
	if err != nil {
		return fmt.Errorf("failed to resolve SSM parameters: %w", err)
	}
	mergeParams(c, values)
	slog.Info("Resolved SSM parameters", "prefix", c.SSMParamPrefix, "found", len(values))
	return nil
}

func mergeParams(c *Config, values map[string]string) {
	if c.OperatorAddress == "" {
		c.OperatorAddress = values[paramstore.ParamOperatorAddress]
	}
	if c.BackOfficeAddress == "" {
		c.BackOfficeAddress = values[paramstore.ParamBackOfficeAddress]
	}
	if c.StatusToken == "" {
		c.StatusToken = values[paramstore.ParamStatusToken]
	}
}

// registerJobs schedules the follow-up sweep and the dedup prune.
func registerJobs(ctx context.Context, sched *scheduler.Scheduler, c Config, followUp *flow.FollowUp, dedup store.DedupRepo) error {
	if c.FollowUpInterval <= 0 {
		return errors.New("follow-up interval must be positive")
	}
	if err := sched.AddJob("@every "+c.FollowUpInterval.String(), "followup-sweep", func() {
		runSweep(ctx, followUp)
	}); err != nil {
		return err
	}
	return sched.AddJob(DedupPruneSchedule, "dedup-prune", func() {
		pruneDedup(ctx, dedup, time.Now().Add(-store.DefaultDedupRetention))
	})
}

// startJobs registers the periodic jobs, starts the scheduler and runs one
// follow-up sweep right away so reminders missed while offline go out at
// startup. The returned channel is closed when that sweep finishes.
func startJobs(ctx context.Context, sched *scheduler.Scheduler, c Config, followUp *flow.FollowUp, dedup store.DedupRepo) (<-chan struct{}, error) {
	if err := registerJobs(ctx, sched, c, followUp, dedup); err != nil {
		return nil, err
	}
	sched.Start()
	done := make(chan struct{})
	go func() {
		defer close(done)
		runSweep(ctx, followUp)
	}()
	return done, nil
}

func runSweep(ctx context.Context, followUp *flow.FollowUp) {
	res, err := followUp.Sweep(ctx)
	if err != nil {
		slog.Error("Follow-up sweep failed", "error", err)
		return
	}
	slog.Info("Follow-up sweep finished", "checked", res.Checked, "sent", res.Sent, "failed", res.Failed)
}

func pruneDedup(ctx context.Context, dedup store.DedupRepo, before time.Time) {
	n, err := dedup.PruneDedup(ctx, before)
	if err != nil {
		slog.Error("Dedup prune failed", "error", err)
		return
	}
	slog.Info("Dedup prune finished", "removed", n, "before", before)
}
