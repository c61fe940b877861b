package app

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
)

func TestNew_DefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	a, err := New(context.Background(), cfg, Options{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if a.Store == nil || a.Import == nil {
		t.Fatal("Expected store and import service to be wired")
	}
	if a.S3 != nil {
		t.Error("Expected no S3 client without a bucket")
	}

	data := []byte("Nome,Preço,Código\nCasa Azul,250000,C-1\n")
	result, err := a.Import.Run(context.Background(), services.ImportRequest{
		RunID:    "run-app",
		TenantID: "t1",
		FileName: "listings.csv",
		Data:     data,
	})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Expected: %d, got: %d", 1, result.Imported)
	}

	status, err := a.Import.Status(context.Background(), "run-app")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status.State != models.RunStateCompleted {
		t.Errorf("Expected: %q, got: %q", models.RunStateCompleted, status.State)
	}
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Kind = "cassandra"

	if _, err := New(context.Background(), cfg, Options{}, nil); err == nil {
		t.Error("Expected error for unregistered store kind")
	}
}

func TestNew_AIRequiresKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Enabled = true

	if _, err := New(context.Background(), cfg, Options{}, nil); err == nil {
		t.Error("Expected error when AI is enabled without an API key")
	}
}

func TestNew_AIOracleSettingsLogged(t *testing.T) {
	testCases := []struct {
		name      string
		model     string
		maxTokens int
	}{
		{"Configured model", "gpt-4o", 1500},
		{"Defaults applied by the client", "", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.AI.Enabled = true
			cfg.AI.APIKey = "test-key"
			cfg.AI.Model = tc.model
			cfg.AI.MaxTokens = tc.maxTokens

			core, logs := observer.New(zapcore.InfoLevel)
			a, err := New(context.Background(), cfg, Options{}, zap.New(core))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer a.Close()

			entries := logs.FilterMessage("AI oracle configured").All()
			if len(entries) != 1 {
				t.Fatalf("Expected: %d, got: %d", 1, len(entries))
			}
			fields := entries[0].ContextMap()
			wantModel, wantTokens := tc.model, int64(tc.maxTokens)
			if wantModel == "" {
				wantModel, wantTokens = "gpt-4o-mini", 4000
			}
			if fields["model"] != wantModel {
				t.Errorf("Expected: %v, got: %v", wantModel, fields["model"])
			}
			if fields["max_tokens"] != wantTokens {
				t.Errorf("Expected: %v, got: %v", wantTokens, fields["max_tokens"])
			}
		})
	}
}
