package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/paramstore"
	"github.com/11996262609/CrossFit-ChatBot/internal/scheduler"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
	"github.com/11996262609/CrossFit-ChatBot/internal/testutil"
	"github.com/spf13/pflag"
)

var configEnvKeys = []string{
	"STATE_DIR", "WHATSAPP_DB_DSN", "DATABASE_DSN", "DYNAMODB_TABLE", "MEDIA_DIR", "CATALOG_FILE",
	"OPERATOR_ADDRESS", "BACKOFFICE_ADDRESS", "SSM_PARAM_PREFIX",
	"HANDOFF_SILENCE", "TAKEOVER_SILENCE", "ATTACHMENT_SILENCE", "BOT_SEND_GRACE", "DEBOUNCE_WINDOW",
	"PENDING_FORWARD_TTL", "FOLLOWUP_THRESHOLD", "FOLLOWUP_INTERVAL", "TYPING_DELAY",
	"STATUS_ADDR", "STATUS_TOKEN", "QR_OUTPUT", "NUMERIC_CODE", "DEBUG",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	c, err := parseCommandLineFlags(nil, loadEnvironmentConfig())
	if err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	if c.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q", c.StateDir)
	}
	wantWA := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	if c.WhatsAppDBDSN != wantWA {
		t.Errorf("WhatsAppDBDSN = %q, want %q", c.WhatsAppDBDSN, wantWA)
	}
	if c.DatabaseDSN != filepath.Join(DefaultStateDir, DefaultAppDBFileName) {
		t.Errorf("DatabaseDSN = %q", c.DatabaseDSN)
	}
	if c.MediaDir != filepath.Join(DefaultStateDir, DefaultMediaDirName) {
		t.Errorf("MediaDir = %q", c.MediaDir)
	}
	if c.HandoffSilence != 30*time.Minute || c.TakeoverSilence != time.Hour || c.AttachmentSilence != 20*time.Minute {
		t.Errorf("silences = %v %v %v", c.HandoffSilence, c.TakeoverSilence, c.AttachmentSilence)
	}
	if c.BotSendGrace != 8*time.Second || c.DebounceWindow != 15*time.Second || c.PendingForwardTTL != 3*time.Minute {
		t.Errorf("windows = %v %v %v", c.BotSendGrace, c.DebounceWindow, c.PendingForwardTTL)
	}
	if c.FollowUpThreshold != 48*time.Hour || c.FollowUpInterval != 30*time.Minute || c.TypingDelay != 1200*time.Millisecond {
		t.Errorf("follow-up = %v %v typing = %v", c.FollowUpThreshold, c.FollowUpInterval, c.TypingDelay)
	}
	if c.StatusAddr != ":8080" || c.Debug || c.NumericCode {
		t.Errorf("status/debug = %q %v %v", c.StatusAddr, c.Debug, c.NumericCode)
	}
}

func TestStateDirDerivesPaths(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STATE_DIR", "/srv/bot")

	c, err := parseCommandLineFlags([]string{"--state-dir", "/data/bot"}, loadEnvironmentConfig())
	if err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	if c.DatabaseDSN != "/data/bot/chatbot.db" || c.MediaDir != "/data/bot/media" {
		t.Errorf("derived paths = %q %q", c.DatabaseDSN, c.MediaDir)
	}
	if c.WhatsAppDBDSN != "file:/data/bot/whatsmeow.db?_foreign_keys=on" {
		t.Errorf("WhatsAppDBDSN = %q", c.WhatsAppDBDSN)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OPERATOR_ADDRESS", "5511911112222")
	t.Setenv("HANDOFF_SILENCE", "10m")
	t.Setenv("DATABASE_DSN", "postgres://bot@db/bot")
	t.Setenv("DEBUG", "true")

	c, err := parseCommandLineFlags([]string{
		"--operator", "5511933334444",
		"--takeover-silence", "2h",
		"--typing-delay", "0s",
		"--status-addr", "",
	}, loadEnvironmentConfig())
	if err != nil {
		t.Fatalf("parseCommandLineFlags: %v", err)
	}
	if c.OperatorAddress != "5511933334444" {
		t.Errorf("OperatorAddress = %q", c.OperatorAddress)
	}
	if c.HandoffSilence != 10*time.Minute || c.TakeoverSilence != 2*time.Hour || c.TypingDelay != 0 {
		t.Errorf("durations = %v %v %v", c.HandoffSilence, c.TakeoverSilence, c.TypingDelay)
	}
	if c.DatabaseDSN != "postgres://bot@db/bot" || !c.Debug || c.StatusAddr != "" {
		t.Errorf("config = %+v", c)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	clearConfigEnv(t)
	if _, err := parseCommandLineFlags([]string{"--handoff-silence", "soon"}, loadEnvironmentConfig()); err == nil {
		t.Error("expected error for invalid duration")
	}
	if _, err := parseCommandLineFlags([]string{"extra"}, loadEnvironmentConfig()); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, err := parseCommandLineFlags([]string{"--help"}, loadEnvironmentConfig()); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help returned %v", err)
	}
}

func TestMergeParams(t *testing.T) {
	c := Config{OperatorAddress: "5511911112222"}
	mergeParams(&c, map[string]string{
		paramstore.ParamOperatorAddress:   "5511900000000",
		paramstore.ParamBackOfficeAddress: "5511955556666",
		paramstore.ParamStatusToken:       "tok",
	})
	if c.OperatorAddress != "5511911112222" {
		t.Errorf("configured operator should win, got %q", c.OperatorAddress)
	}
	if c.BackOfficeAddress != "5511955556666" || c.StatusToken != "tok" {
		t.Errorf("config = %+v", c)
	}
}

func TestCanonicalAddress(t *testing.T) {
	tests := []struct {
		in   string
		want models.Address
	}{
		{"", ""},
		{"+55 (11) 98888-7777", "5511988887777@s.whatsapp.net"},
		{"5511988887777@s.whatsapp.net", "5511988887777@s.whatsapp.net"},
		{"123", "123"},
	}
	for _, tt := range tests {
		if got := canonicalAddress(tt.in); got != tt.want {
			t.Errorf("canonicalAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildFlowOptions(t *testing.T) {
	c := Config{
		HandoffSilence:    time.Minute,
		TakeoverSilence:   2 * time.Minute,
		AttachmentSilence: 3 * time.Minute,
		BotSendGrace:      time.Second,
		DebounceWindow:    5 * time.Second,
		PendingForwardTTL: 4 * time.Minute,
		FollowUpThreshold: time.Hour,
		TypingDelay:       0,
		OperatorAddress:   "5511988887777",
	}
	var o flow.Opts
	for _, opt := range buildFlowOptions(c) {
		opt(&o)
	}
	if o.HandoffSilence != time.Minute || o.TakeoverSilence != 2*time.Minute || o.AttachmentSilence != 3*time.Minute {
		t.Errorf("silences = %+v", o)
	}
	if o.OperatorAddress != "5511988887777@s.whatsapp.net" || o.BackOfficeAddress != "" {
		t.Errorf("addresses = %q %q", o.OperatorAddress, o.BackOfficeAddress)
	}
	if o.IsConversation == nil || o.IsConversation("120363000000000000@g.us") || !o.IsConversation("5511988887777@s.whatsapp.net") {
		t.Error("address filter should accept one-to-one chats only")
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	if got := len(buildWhatsAppOptions(Config{})); got != 2 {
		t.Errorf("base options = %d", got)
	}
	if got := len(buildWhatsAppOptions(Config{QROutput: "/tmp/qr.txt", NumericCode: true})); got != 4 {
		t.Errorf("login options = %d", got)
	}
	if whatsmeowLogLevel(true) != "DEBUG" || whatsmeowLogLevel(false) != "INFO" {
		t.Error("unexpected whatsmeow log levels")
	}
}

func TestRegisterJobs(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := store.NewInMemoryStore()
	clock := testutil.NewManualClock(time.Date(2025, 9, 24, 10, 0, 0, 0, time.UTC))
	followUp := flow.NewFollowUp(st, testutil.NewFakeSender(clock), cat, clock)

	sched := scheduler.NewScheduler()
	if err := registerJobs(context.Background(), sched, Config{FollowUpInterval: 30 * time.Minute}, followUp, st); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	if sched.Len() != 2 {
		t.Errorf("registered jobs = %d, want 2", sched.Len())
	}

	if err := registerJobs(context.Background(), scheduler.NewScheduler(), Config{}, followUp, st); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestStartJobsSweepsImmediately(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	ctx := context.Background()
	st := store.NewInMemoryStore()
	clock := testutil.NewManualClock(time.Date(2025, 9, 24, 10, 0, 0, 0, time.UTC))
	user := models.Address("5511999999999@s.whatsapp.net")
	if err := st.RecordAttachment(ctx, user, "Maria Silva", clock.Now().Add(-72*time.Hour)); err != nil {
		t.Fatal(err)
	}
	sender := testutil.NewFakeSender(clock)
	followUp := flow.NewFollowUp(st, sender, cat, clock)

	sched := scheduler.NewScheduler()
	done, err := startJobs(ctx, sched, Config{FollowUpInterval: time.Hour}, followUp, st)
	if err != nil {
		t.Fatalf("startJobs: %v", err)
	}
	defer sched.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("startup sweep did not finish")
	}
	if got := sender.Texts(user); len(got) != 1 || got[0] != cat.Reminder("Maria") {
		t.Errorf("startup sweep sends = %q", got)
	}
	if u, err := st.GetUser(ctx, user); err != nil || !u.Reminded() {
		t.Errorf("reminder not persisted: %+v, %v", u, err)
	}

	if _, err := startJobs(ctx, scheduler.NewScheduler(), Config{}, followUp, st); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestPruneDedup(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	if _, err := st.RecordInbound(ctx, "old", "5511988887777@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	pruneDedup(ctx, st, time.Now().Add(time.Hour))
	fresh, err := st.RecordInbound(ctx, "old", "5511988887777@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Error("pruned id should be accepted again")
	}
}
