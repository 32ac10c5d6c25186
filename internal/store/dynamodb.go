// Package store provides storage backends for the chatbot.
//
// This file implements a DynamoDB-backed store. Contacts and dedup entries
// share one table keyed by PK.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixContact = "CONTACT#"
	pkPrefixMsg     = "MSG#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps contact records in a DynamoDB table with a string
// partition key named PK. Dedup entries carry a "ttl" attribute so the
// table's TTL setting expires them.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	retention time.Duration
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore over an existing table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	slog.Debug("NewDynamoStore invoked", "table", tableName)
	return &DynamoStore{api: api, tableName: tableName, retention: DefaultDedupRetention, now: time.Now}, nil
}

func contactPK(addr models.Address) string {
	return pkPrefixContact + string(addr)
}

func msgPK(messageID string) string {
	return pkPrefixMsg + messageID
}

func numAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func keyOf(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) GetUser(ctx context.Context, addr models.Address) (*models.UserRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyOf(contactPK(addr)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: GetUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	u, err := itemToUser(out.Item)
	if err != nil {
		return nil, fmt.Errorf("store: GetUser decode: %w", err)
	}
	return u, nil
}

func (s *DynamoStore) RecordAttachment(ctx context.Context, addr models.Address, displayName string, at time.Time) error {
	if addr == "" {
		return models.ErrEmptyAddress
	}
	now := toMillis(s.now())
	update := "SET address = :addr, lastAttachmentAt = :at, updatedAt = :now, createdAt = if_not_exists(createdAt, :now)"
	values := map[string]types.AttributeValue{
		":addr": &types.AttributeValueMemberS{Value: string(addr)},
		":at":   numAttr(toMillis(at)),
		":now":  numAttr(now),
	}
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       keyOf(contactPK(addr)),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		slog.Error("DynamoStore RecordAttachment failed", "error", err, "address", addr)
		return fmt.Errorf("store: RecordAttachment: %w", err)
	}
	if displayName == "" {
		return nil
	}

	// Only fill the name when it is still absent or empty.
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyOf(contactPK(addr)),
		UpdateExpression:    aws.String("SET displayName = :name"),
		ConditionExpression: aws.String("attribute_not_exists(displayName) OR displayName = :empty"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":  &types.AttributeValueMemberS{Value: displayName},
			":empty": &types.AttributeValueMemberS{Value: ""},
		},
	})
	if err != nil && !isConditionFailed(err) {
		slog.Error("DynamoStore RecordAttachment display name update failed", "error", err, "address", addr)
		return fmt.Errorf("store: RecordAttachment display name: %w", err)
	}
	return nil
}

func (s *DynamoStore) MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error) {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyOf(contactPK(addr)),
		UpdateExpression:    aws.String("SET lastReminderAt = :reminded, updatedAt = :now"),
		ConditionExpression: aws.String("lastAttachmentAt = :expected AND (attribute_not_exists(lastReminderAt) OR lastReminderAt < lastAttachmentAt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":reminded": numAttr(toMillis(remindedAt)),
			":now":      numAttr(toMillis(s.now())),
			":expected": numAttr(toMillis(attachmentAt)),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		slog.Error("DynamoStore MarkReminded failed", "error", err, "address", addr)
		return false, fmt.Errorf("store: MarkReminded: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	var (
		users []models.UserRecord
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: pkPrefixContact},
			},
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("store: ListUsers scan: %w", err)
		}
		for _, item := range out.Items {
			u, err := itemToUser(item)
			if err != nil {
				return nil, fmt.Errorf("store: ListUsers decode: %w", err)
			}
			users = append(users, *u)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return users, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) RecordInbound(ctx context.Context, messageID string, addr models.Address) (bool, error) {
	now := s.now()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: msgPK(messageID)},
			"address":    &types.AttributeValueMemberS{Value: string(addr)},
			"receivedAt": numAttr(toMillis(now)),
			"ttl":        numAttr(now.Add(s.retention).Unix()),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR attribute_not_exists(processedAt)"),
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: RecordInbound: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyOf(msgPK(messageID)),
		UpdateExpression:    aws.String("SET processedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numAttr(toMillis(s.now())),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("store: MarkProcessed: %w", err)
	}
	return nil
}

// PruneDedup deletes dedup entries older than before. DynamoDB TTL normally
// does this; the scan covers tables without TTL enabled.
func (s *DynamoStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	var (
		n     int64
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(PK, :prefix) AND receivedAt < :before"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: pkPrefixMsg},
				":before": numAttr(toMillis(before)),
			},
			ProjectionExpression: aws.String("PK"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return n, fmt.Errorf("store: PruneDedup scan: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil {
				continue
			}
			if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key:       keyOf(pk),
			}); err != nil {
				return n, fmt.Errorf("store: PruneDedup delete: %w", err)
			}
			n++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return n, nil
		}
		start = out.LastEvaluatedKey
	}
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}

// itemToUser converts a DynamoDB attribute map to a models.UserRecord.
func itemToUser(item map[string]types.AttributeValue) (*models.UserRecord, error) {
	addr, err := strAttr(item, "address")
	if err != nil {
		return nil, err
	}
	u := &models.UserRecord{Address: models.Address(addr)}
	u.DisplayName, _ = strAttr(item, "displayName") // optional
	if v, ok, err := optInt64Attr(item, "lastAttachmentAt"); err != nil {
		return nil, err
	} else if ok {
		u.LastAttachmentAt = timePtr(fromMillis(v))
	}
	if v, ok, err := optInt64Attr(item, "lastReminderAt"); err != nil {
		return nil, err
	} else if ok {
		u.LastReminderAt = timePtr(fromMillis(v))
	}
	if v, ok, _ := optInt64Attr(item, "createdAt"); ok {
		u.CreatedAt = fromMillis(v)
	}
	if v, ok, _ := optInt64Attr(item, "updatedAt"); ok {
		u.UpdatedAt = fromMillis(v)
	}
	return u, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("store: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optInt64Attr(item map[string]types.AttributeValue, key string) (int64, bool, error) {
	v, ok := item[key]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("store: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: parse attribute %q: %w", key, err)
	}
	return parsed, true, nil
}
