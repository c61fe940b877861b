//go:build integration

package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// These are integration tests that make real S3 API calls
// Run with: go test -tags=integration ./internal/services -run TestS3 -v

func TestS3Client_RealRoundTrip(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET_NAME")
	if bucket == "" || os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping integration test - S3_BUCKET_NAME not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewS3Client(ctx, S3Config{BucketName: bucket, Region: os.Getenv("AWS_REGION")})
	if err != nil {
		t.Skipf("Skipping S3 integration test - no AWS credentials: %v", err)
	}

	runID := models.GenerateImportRunID()
	report := []byte("index,kind,reason\n7,skipped,missing mandatory identifier\n")

	result, err := client.UploadReport(ctx, "integration", runID, report)
	if err != nil {
		t.Fatalf("Failed to upload report: %v", err)
	}
	t.Logf("Uploaded report to %s", result.PublicURL)

	data, err := client.Download(ctx, "", result.Key)
	if err != nil {
		t.Fatalf("Failed to download report: %v", err)
	}
	if string(data) != string(report) {
		t.Errorf("Expected report %q, got %q", report, data)
	}
}
