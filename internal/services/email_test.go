package services

import (
	"context"
	"testing"

	"churnguard/internal/config"
	"churnguard/internal/models"
	"churnguard/pkg/resend"
)

func TestNewEmailSender(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
		wantSMTP bool
	}{
		{"resend", "resend", false, false},
		{"smtp", "smtp", false, true},
		{"unknown provider", "sendgrid", true, false},
		{"empty provider", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GetDefaultConfig()
			cfg.Email.Provider = tt.provider

			sender, err := NewEmailSender(cfg, quietLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEmailSender() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			_, isSMTP := sender.(*SMTPSender)
			if isSMTP != tt.wantSMTP {
				t.Errorf("sender type = %T", sender)
			}
			if !tt.wantSMTP {
				if _, ok := sender.(*resend.Client); !ok {
					t.Errorf("sender type = %T, want resend client", sender)
				}
			}
		})
	}
}

func TestSenderResolver(t *testing.T) {
	db := newPipelineTestDB(t, "sender_resolver")
	if err := db.Create(&models.Integration{UserID: 1, Provider: "resend", APIKey: "re_tenant"}).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	// A row without a key must not shadow the fallback.
	if err := db.Create(&models.Integration{UserID: 2, Provider: "resend"}).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	fallback := newFakeSender()
	tenant := newFakeSender()
	resolver := NewSenderResolver(db, config.GetDefaultConfig(), quietLogger(), fallback)

	var gotKey string
	resolver.newResend = func(apiKey string) EmailSender {
		gotKey = apiKey
		return tenant
	}

	ctx := context.Background()
	if got := resolver.SenderFor(ctx, 1); got != tenant {
		t.Errorf("user 1 sender = %T, want the tenant sender", got)
	}
	if gotKey != "re_tenant" {
		t.Errorf("tenant sender built with key %q, want re_tenant", gotKey)
	}
	if got := resolver.SenderFor(ctx, 2); got != fallback {
		t.Errorf("user 2 sender = %T, want the fallback", got)
	}
	if got := resolver.SenderFor(ctx, 3); got != fallback {
		t.Errorf("user 3 sender = %T, want the fallback", got)
	}
}

func TestProcessTrigger_DeliversThroughTenantSender(t *testing.T) {
	db := newPipelineTestDB(t, "proc_tenant_sender")
	fallback := newFakeSender()
	tenant := newFakeSender()

	pipeline := NewPipelineService(db, quietLogger(), fallback, config.PipelineConfig{})
	resolver := NewSenderResolver(db, config.GetDefaultConfig(), quietLogger(), fallback)
	resolver.newResend = func(apiKey string) EmailSender { return tenant }
	pipeline.UseSenderResolver(resolver)

	if err := db.Create(&models.Integration{UserID: 1, Provider: "resend", APIKey: "re_tenant"}).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	trigger := seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedSnapshot(t, db, "alice@example.com", 20)

	res, err := pipeline.ProcessTrigger(context.Background(), trigger)
	if err != nil {
		t.Fatalf("ProcessTrigger: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("result = %+v, want 1 sent", res)
	}
	if got := tenant.sentTo(); len(got) != 1 || got[0] != "alice@example.com" {
		t.Errorf("tenant sender deliveries = %v, want alice", got)
	}
	if got := fallback.sentTo(); len(got) != 0 {
		t.Errorf("fallback deliveries = %v, want none", got)
	}
}
