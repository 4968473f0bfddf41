//go:build integration

package dynamodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/dwsmith1983/tally/internal/provider/providertest"
	"github.com/dwsmith1983/tally/pkg/types"
)

func setupTestProvider(t *testing.T) *DynamoDBProvider {
	t.Helper()
	ctx := context.Background()
	tableName := fmt.Sprintf("tally-test-%d", time.Now().UnixNano())
	cfg := &types.DynamoDBConfig{
		TableName:   tableName,
		Region:      "us-east-1",
		Endpoint:    "http://localhost:8000",
		CreateTable: true,
	}
	prov, err := New(cfg)
	if err != nil {
		t.Skipf("DynamoDB Local not available: %v", err)
	}
	if err := prov.Start(ctx); err != nil {
		t.Skipf("DynamoDB Local not available: %v", err)
	}
	t.Cleanup(func() {
		if c, ok := prov.client.(*dynamodb.Client); ok {
			_, _ = c.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{
				TableName: &tableName,
			})
		}
	})
	return prov
}

func TestConformance(t *testing.T) {
	providertest.RunAll(t, setupTestProvider(t))
}
