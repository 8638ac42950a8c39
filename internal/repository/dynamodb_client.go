package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"coronabot-fulfillment/internal/domain"
)

const (
	skPrefixCtx = "CTX#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores conversation contexts in a DynamoDB table, one item per
// session and context name.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a dialogue session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// ctxSK returns the sort key for a named context.
func ctxSK(name string) string {
	return skPrefixCtx + name
}

func (c *Client) itemKey(sessionID, name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: ctxSK(name)},
	}
}

// Read returns the named context of a session. Missing items and items whose
// lifespan ran out are reported as absent.
func (c *Client) Read(ctx context.Context, sessionID, name string) (domain.ConversationContext, bool, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(name) == "" {
		return domain.ConversationContext{}, false, errors.New("repository: Read: session id and name are required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.itemKey(sessionID, name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationContext{}, false, fmt.Errorf("repository: Read get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationContext{}, false, nil
	}

	cc, err := itemToContext(out.Item)
	if err != nil {
		return domain.ConversationContext{}, false, fmt.Errorf("repository: Read decode: %w", err)
	}
	if cc.RemainingTurns <= 0 {
		return domain.ConversationContext{}, false, nil
	}
	return cc, true, nil
}

// Write replaces the named context. A zero lifespan deletes the item.
func (c *Client) Write(ctx context.Context, sessionID string, cc domain.ConversationContext) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(cc.Name) == "" {
		return errors.New("repository: Write: session id and name are required")
	}

	if cc.RemainingTurns <= 0 {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key:       c.itemKey(sessionID, cc.Name),
		})
		if err != nil {
			return fmt.Errorf("repository: Write delete: %w", err)
		}
		return nil
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.contextItem(sessionID, cc),
	})
	if err != nil {
		return fmt.Errorf("repository: Write: %w", err)
	}
	return nil
}

func (c *Client) contextItem(sessionID string, cc domain.ConversationContext) map[string]types.AttributeValue {
	now := c.now().UTC()
	params := make(map[string]types.AttributeValue, len(cc.Parameters))
	for k, v := range cc.Parameters {
		params[k] = &types.AttributeValueMemberS{Value: v}
	}
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":         &types.AttributeValueMemberS{Value: ctxSK(cc.Name)},
		"sessionId":  &types.AttributeValueMemberS{Value: sessionID},
		"name":       &types.AttributeValueMemberS{Value: cc.Name},
		"lifespan":   &types.AttributeValueMemberN{Value: strconv.Itoa(cc.RemainingTurns)},
		"parameters": &types.AttributeValueMemberM{Value: params},
		"updatedAt":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(ttlDuration).Unix())},
	}
}

// itemToContext converts a DynamoDB attribute map to a ConversationContext.
func itemToContext(item map[string]types.AttributeValue) (domain.ConversationContext, error) {
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.ConversationContext{}, err
	}
	lifespan, err := intAttr(item, "lifespan")
	if err != nil {
		return domain.ConversationContext{}, err
	}

	params := map[string]string{}
	if raw, ok := item["parameters"]; ok {
		m, ok := raw.(*types.AttributeValueMemberM)
		if !ok {
			return domain.ConversationContext{}, errors.New(`repository: attribute "parameters" is not a map`)
		}
		for k := range m.Value {
			v, err := strAttr(m.Value, k)
			if err != nil {
				return domain.ConversationContext{}, err
			}
			params[k] = v
		}
	}

	return domain.ConversationContext{
		Name:           name,
		RemainingTurns: lifespan,
		Parameters:     params,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
