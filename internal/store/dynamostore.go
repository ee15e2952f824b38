// Package store implements C11: a single DynamoDB table keyed by (PK, SK)
// for Cards, Snapshots, and Idempotency Tokens, with two GSIs, plus a
// relational side-store (pgstore.go) for Execution Records, which are
// range-scanned by subject+time in a way that does not need a GSI.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// ErrNotFound is returned when a Card/Snapshot/Token lookup finds nothing
// owned by the requesting subject.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by conditional writes that lose a race (token
// create, duplicate card, etc.).
var ErrConflict = errors.New("store: conflict")

// DynamoAPI is the narrow subset of the DynamoDB client this store needs,
// letting tests substitute an in-memory fake instead of a real client.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is the single-table persistence layer for Card, Snapshot, and
// IdempotencyToken entities.
type Store struct {
	client    DynamoAPI
	tableName string
}

func New(client DynamoAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

const (
	gsiByCreated    = "BY_CREATED"
	gsiBySetRarity  = "BY_SET_RARITY"
)

func userPK(subject string) string       { return "USER#" + subject }
func cardSK(cardID string) string        { return "CARD#" + cardID }
func snapshotSK(ts time.Time, cardID string) string {
	return "PRICE#" + ts.UTC().Format(time.RFC3339Nano) + "#" + cardID
}
func tokenSK(key string) string   { return "IDEMPOTENCY#" + key }
func revalueSK(cardID string) string { return "REVALUE#" + cardID }

// --- Card ---------------------------------------------------------------

type cardItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"` // BY_CREATED: subject
	GSI1SK    string `dynamodbav:"GSI1SK"` // BY_CREATED: createdAt
	GSI2PK    string `dynamodbav:"GSI2PK,omitempty"` // BY_SET_RARITY: set#rarity
	GSI2SK    string `dynamodbav:"GSI2SK,omitempty"` // BY_SET_RARITY: valueMedian, zero-padded

	models.Card
}

// PutCard writes (creates or replaces) a Card row.
func (s *Store) PutCard(ctx context.Context, c models.Card) error {
	item := cardItem{
		PK:     userPK(c.Subject),
		SK:     cardSK(c.CardID),
		GSI1PK: c.Subject,
		GSI1SK: c.CreatedAt.UTC().Format(time.RFC3339Nano),
		Card:   c,
	}
	if c.Set != "" || c.Rarity != "" {
		item.GSI2PK = c.Set + "#" + c.Rarity
		median := 0.0
		if c.ValueMedian != nil {
			median = *c.ValueMedian
		}
		item.GSI2SK = fmt.Sprintf("%020.4f", median)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("store: marshal card: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av})
	if err != nil {
		return fmt.Errorf("store: put card: %w", err)
	}
	return nil
}

// GetCard fetches a card owned by subject. Returns ErrNotFound if absent or
// owned by a different subject (access outside the owning subject is
// rejected identically to "missing", per §3).
func (s *Store) GetCard(ctx context.Context, subject, cardID string) (models.Card, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringAV(userPK(subject)),
			"SK": stringAV(cardSK(cardID)),
		},
	})
	if err != nil {
		return models.Card{}, fmt.Errorf("store: get card: %w", err)
	}
	if out.Item == nil {
		return models.Card{}, ErrNotFound
	}
	var item cardItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return models.Card{}, fmt.Errorf("store: unmarshal card: %w", err)
	}
	return item.Card, nil
}

// DeleteCard removes a card owned by subject.
func (s *Store) DeleteCard(ctx context.Context, subject, cardID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringAV(userPK(subject)),
			"SK": stringAV(cardSK(cardID)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete card: %w", err)
	}
	return nil
}

// ListCardsPage lists a subject's cards ordered by createdAt via the
// BY_CREATED GSI, supporting cursor-based pagination.
func (s *Store) ListCardsPage(ctx context.Context, subject string, cursor string, limit int) ([]models.Card, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(gsiByCreated),
		KeyConditionExpression: aws.String("GSI1PK = :subject"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":subject": stringAV(subject),
		},
		Limit: aws.Int32(int32(limit)),
	}
	if cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     stringAV(userPK(subject)),
			"SK":     stringAV(cardSK("")), // refined below by GSI1SK
			"GSI1PK": stringAV(subject),
			"GSI1SK": stringAV(cursor),
		}
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("store: list cards: %w", err)
	}

	cards := make([]models.Card, 0, len(out.Items))
	for _, raw := range out.Items {
		var item cardItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		cards = append(cards, item.Card)
	}

	var nextCursor string
	if out.LastEvaluatedKey != nil {
		if v, ok := out.LastEvaluatedKey["GSI1SK"]; ok {
			if sv, ok := v.(*types.AttributeValueMemberS); ok {
				nextCursor = sv.Value
			}
		}
	}
	return cards, nextCursor, nil
}

// --- Snapshot -------------------------------------------------------------

type snapshotItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	models.Snapshot
}

// PutSnapshotAndCard performs the atomic write group from §4.7/§4.10: an
// immutable Snapshot insert plus the Card's cached-latest update, in a
// single DynamoDB transaction.
func (s *Store) PutSnapshotAndCard(ctx context.Context, snap models.Snapshot, card models.Card) error {
	snapAV, err := attributevalue.MarshalMap(snapshotItem{
		PK:       userPK(snap.Subject),
		SK:       snapshotSK(snap.Timestamp, snap.CardID),
		Snapshot: snap,
	})
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	cardItemValue := cardItem{
		PK:     userPK(card.Subject),
		SK:     cardSK(card.CardID),
		GSI1PK: card.Subject,
		GSI1SK: card.CreatedAt.UTC().Format(time.RFC3339Nano),
		Card:   card,
	}
	if card.Set != "" || card.Rarity != "" {
		cardItemValue.GSI2PK = card.Set + "#" + card.Rarity
		median := 0.0
		if card.ValueMedian != nil {
			median = *card.ValueMedian
		}
		cardItemValue.GSI2SK = fmt.Sprintf("%020.4f", median)
	}
	cardAV, err := attributevalue.MarshalMap(cardItemValue)
	if err != nil {
		return fmt.Errorf("store: marshal card: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(s.tableName), Item: snapAV}},
			{Put: &types.Put{TableName: aws.String(s.tableName), Item: cardAV}},
		},
	})
	if err != nil {
		return fmt.Errorf("store: atomic snapshot+card write: %w", err)
	}
	return nil
}

// ListSnapshots returns a card's append-only snapshot history, newest last
// (ascending by timestamp, matching the SK's lexicographic RFC-3339 order).
func (s *Store) ListSnapshots(ctx context.Context, subject, cardID string) ([]models.Snapshot, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     stringAV(userPK(subject)),
			":prefix": stringAV("PRICE#"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}

	var snaps []models.Snapshot
	for _, raw := range out.Items {
		var item snapshotItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		if item.Snapshot.CardID != cardID {
			continue
		}
		snaps = append(snaps, item.Snapshot)
	}
	return snaps, nil
}

// --- Idempotency token ----------------------------------------------------

type tokenItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	TTL int64 `dynamodbav:"ttl"`
	models.IdempotencyToken
}

// CreateInProgressToken atomically creates an in-progress token, failing
// with ErrConflict if one already exists (lost race on concurrent
// requests, §4.9 step 4).
func (s *Store) CreateInProgressToken(ctx context.Context, token models.IdempotencyToken) error {
	item := tokenItem{
		PK:               userPK(token.Subject),
		SK:               tokenSK(token.Key),
		TTL:              token.ExpiresAt.Unix(),
		IdempotencyToken: token,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("store: marshal token: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConflict
		}
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

// GetToken fetches a token, returning ErrNotFound if absent or expired.
func (s *Store) GetToken(ctx context.Context, subject, key string) (models.IdempotencyToken, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringAV(userPK(subject)),
			"SK": stringAV(tokenSK(key)),
		},
	})
	if err != nil {
		return models.IdempotencyToken{}, fmt.Errorf("store: get token: %w", err)
	}
	if out.Item == nil {
		return models.IdempotencyToken{}, ErrNotFound
	}
	var item tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return models.IdempotencyToken{}, fmt.Errorf("store: unmarshal token: %w", err)
	}
	if time.Now().After(item.ExpiresAt) {
		return models.IdempotencyToken{}, ErrNotFound
	}
	return item.IdempotencyToken, nil
}

// CompleteToken marks a token completed and stores the cached response.
func (s *Store) CompleteToken(ctx context.Context, subject, key string, status int, body []byte) error {
	token, err := s.GetToken(ctx, subject, key)
	if err != nil {
		return err
	}
	token.Status = models.TokenStatusCompleted
	token.ResultStatus = status
	token.ResultBody = body

	item := tokenItem{PK: userPK(subject), SK: tokenSK(key), TTL: token.ExpiresAt.Unix(), IdempotencyToken: token}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("store: marshal token: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av})
	if err != nil {
		return fmt.Errorf("store: complete token: %w", err)
	}
	return nil
}

// DeleteToken removes a placeholder token (non-2xx handler response, §4.9
// step 4, "the caller may retry with the same key").
func (s *Store) DeleteToken(ctx context.Context, subject, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringAV(userPK(subject)),
			"SK": stringAV(tokenSK(key)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete token: %w", err)
	}
	return nil
}

// --- Revalue lock -----------------------------------------------------

type revalueLockItem struct {
	PK  string `dynamodbav:"PK"`
	SK  string `dynamodbav:"SK"`
	TTL int64  `dynamodbav:"ttl"`
	models.RevalueLock
}

// CreateRevalueLock atomically marks (subject, cardID) as having an
// in-progress revalue, failing with ErrConflict if one is already active
// and not yet expired (§5 backpressure: a card with an in-progress token
// rejects new revalue requests regardless of Idempotency-Key). The
// condition also allows the write through once a prior lock's TTL has
// passed, so a crashed execution that never cleared its lock cannot wedge
// the card indefinitely ahead of DynamoDB's own (eventually-consistent)
// TTL sweep.
func (s *Store) CreateRevalueLock(ctx context.Context, lock models.RevalueLock) error {
	item := revalueLockItem{
		PK:          userPK(lock.Subject),
		SK:          revalueSK(lock.CardID),
		TTL:         lock.ExpiresAt.Unix(),
		RevalueLock: lock,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("store: marshal revalue lock: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ttl < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConflict
		}
		return fmt.Errorf("store: create revalue lock: %w", err)
	}
	return nil
}

// ClearRevalueLock removes the in-progress marker once an execution settles
// (success or failure), allowing the next revalue request for this card
// through.
func (s *Store) ClearRevalueLock(ctx context.Context, subject, cardID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": stringAV(userPK(subject)),
			"SK": stringAV(revalueSK(cardID)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: clear revalue lock: %w", err)
	}
	return nil
}

func stringAV(v string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: v}
}
