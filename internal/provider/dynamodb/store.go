package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/tally/pkg/types"
)

type entityItem struct {
	PK          string    `dynamodbav:"PK"`
	SK          string    `dynamodbav:"SK"`
	EntityID    string    `dynamodbav:"entityId"`
	PublishedAt time.Time `dynamodbav:"publishedAt"`
}

type checkpointItem struct {
	PK        string    `dynamodbav:"PK"`
	SK        string    `dynamodbav:"SK"`
	Date      string    `dynamodbav:"date"`
	UpdatedAt time.Time `dynamodbav:"updatedAt"`
}

// AddEntities writes one item per entity under the ENTITIES partition.
// Sort keys embed the publication time, so re-adding an entity with a new
// time leaves the old item in place.
func (p *DynamoDBProvider) AddEntities(ctx context.Context, entities []types.Entity) error {
	reqs := make([]ddbtypes.WriteRequest, 0, len(entities))
	for _, e := range entities {
		item, err := attributevalue.MarshalMap(entityItem{
			PK:          entitiesPK(),
			SK:          entitySK(e.PublishedAt, e.ID),
			EntityID:    string(e.ID),
			PublishedAt: e.PublishedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshal entity %s: %w", e.ID, err)
		}
		reqs = append(reqs, ddbtypes.WriteRequest{PutRequest: &ddbtypes.PutRequest{Item: item}})
	}
	return p.batchWrite(ctx, reqs)
}

// ListEntities queries the ENTITIES partition in sort-key order.
func (p *DynamoDBProvider) ListEntities(ctx context.Context, cutoff *time.Time) ([]types.EntityID, error) {
	cond := "PK = :pk"
	values := map[string]ddbtypes.AttributeValue{
		":pk": &ddbtypes.AttributeValueMemberS{Value: entitiesPK()},
	}
	if cutoff != nil {
		cond += " AND SK <= :cutoff"
		values[":cutoff"] = &ddbtypes.AttributeValueMemberS{Value: entityCutoffSK(*cutoff)}
	}

	var ids []types.EntityID
	seen := map[string]bool{}
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := p.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &p.tableName,
			KeyConditionExpression:    aws.String(cond),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		for _, item := range out.Items {
			var e entityItem
			if err := attributevalue.UnmarshalMap(item, &e); err != nil {
				return nil, fmt.Errorf("unmarshal entity: %w", err)
			}
			// A re-added entity leaves its older index item behind.
			if seen[e.EntityID] {
				continue
			}
			seen[e.EntityID] = true
			ids = append(ids, types.EntityID(e.EntityID))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// BulkUpsert writes records with BatchWriteItem, 25 per call. A put
// replaces the whole item, so fields absent from a later record are
// cleared.
func (p *DynamoDBProvider) BulkUpsert(ctx context.Context, records []types.MetricsRecord) error {
	reqs := make([]ddbtypes.WriteRequest, 0, len(records))
	for _, r := range records {
		item, err := attributevalue.MarshalMap(r)
		if err != nil {
			return fmt.Errorf("marshal record %s/%s: %w", r.EntityID, r.Date, err)
		}
		item["PK"] = &ddbtypes.AttributeValueMemberS{Value: metricsPK(r.EntityID)}
		item["SK"] = &ddbtypes.AttributeValueMemberS{Value: metricsSK(r.Date)}
		reqs = append(reqs, ddbtypes.WriteRequest{PutRequest: &ddbtypes.PutRequest{Item: item}})
	}
	return p.batchWrite(ctx, reqs)
}

func (p *DynamoDBProvider) batchWrite(ctx context.Context, reqs []ddbtypes.WriteRequest) error {
	for i := 0; i < len(reqs); i += maxBatchWrite {
		j := i + maxBatchWrite
		if j > len(reqs) {
			j = len(reqs)
		}
		if err := p.writeChunk(ctx, reqs[i:j]); err != nil {
			return err
		}
	}
	return nil
}

func (p *DynamoDBProvider) writeChunk(ctx context.Context, reqs []ddbtypes.WriteRequest) error {
	pending := map[string][]ddbtypes.WriteRequest{p.tableName: reqs}
	for attempt := 0; ; attempt++ {
		out, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		left := out.UnprocessedItems[p.tableName]
		if len(left) == 0 {
			return nil
		}
		if attempt >= maxUnprocessedRetries {
			return fmt.Errorf("batch write: %d items unprocessed after %d retries", len(left), attempt)
		}
		p.logger.Debug("retrying unprocessed items", "count", len(left), "attempt", attempt+1)

		timer := time.NewTimer(p.backoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		pending = map[string][]ddbtypes.WriteRequest{p.tableName: left}
	}
}

// GetMetrics returns the stored record for entity on date, or nil.
func (p *DynamoDBProvider) GetMetrics(ctx context.Context, entity types.EntityID, date string) (*types.MetricsRecord, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: metricsPK(entity)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: metricsSK(date)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get metrics %s/%s: %w", entity, date, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r types.MetricsRecord
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal metrics %s/%s: %w", entity, date, err)
	}
	return &r, nil
}

// GetCheckpoint returns the last completed day of job.
func (p *DynamoDBProvider) GetCheckpoint(ctx context.Context, job string) (string, bool, error) {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: checkpointPK(job)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: checkpointSK()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %q: %w", job, err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var cp checkpointItem
	if err := attributevalue.UnmarshalMap(out.Item, &cp); err != nil {
		return "", false, fmt.Errorf("unmarshal checkpoint %q: %w", job, err)
	}
	return cp.Date, true, nil
}

// PutCheckpoint records date as the last completed day of job.
func (p *DynamoDBProvider) PutCheckpoint(ctx context.Context, job, date string) error {
	item, err := attributevalue.MarshalMap(checkpointItem{
		PK:        checkpointPK(job),
		SK:        checkpointSK(),
		Date:      date,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put checkpoint %q: %w", job, err)
	}
	return nil
}
