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
	"github.com/shopspring/decimal"

	"loan-counselor/internal/domain"
)

const (
	skPrefixExchange = "EX#"
	skMeta           = "META#"
	ttlDuration      = 30 * 24 * time.Hour // 30-day TTL
	defaultListLimit = 20
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client archives completed exchanges in a single DynamoDB table. The archive
// is write-mostly: it is listed by operators and never feeds a transcript.
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

func userPK(userID string) string {
	return "USER#" + userID
}

// exchangeSK orders exchanges by completion time; the ID breaks ties.
func exchangeSK(ts time.Time, id string) string {
	return skPrefixExchange + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveExchange writes the exchange and bumps the user's META# record in one
// transaction. Rewriting the same exchange fails the condition check.
func (c *Client) SaveExchange(ctx context.Context, ex domain.Exchange) error {
	if strings.TrimSpace(ex.UserID) == "" || strings.TrimSpace(ex.ID) == "" {
		return errors.New("repository: SaveExchange: user ID and exchange ID are required")
	}
	if ex.CompletedAt.IsZero() {
		ex.CompletedAt = c.now()
	}
	ttl := c.ttlValue()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                exchangeItem(ex, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: userPK(ex.UserID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET userId = :uid, lastActivity = :ts, #ttl = :ttl ADD exchanges :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":uid": &types.AttributeValueMemberS{Value: ex.UserID},
						":ts":  &types.AttributeValueMemberS{Value: ex.CompletedAt.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

// ListExchanges returns up to limit of the user's most recent exchanges in
// chronological order.
func (c *Client) ListExchanges(ctx context.Context, userID string, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixExchange},
		},
		// Read newest first so LIMIT favors the most recent exchanges.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListExchanges query: %w", err)
	}

	exchanges := make([]domain.Exchange, 0, len(out.Items))
	for _, item := range out.Items {
		ex, err := itemToExchange(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListExchanges unmarshal: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// ExchangeCount returns how many exchanges have been archived for the user.
func (c *Client) ExchangeCount(ctx context.Context, userID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: ExchangeCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	n, err := intAttr(out.Item, "exchanges")
	if err != nil {
		return 0, fmt.Errorf("repository: ExchangeCount decode exchanges: %w", err)
	}
	return n, nil
}

func exchangeItem(ex domain.Exchange, ttl int64) map[string]types.AttributeValue {
	followUps := make([]types.AttributeValue, 0, len(ex.FollowUpQuestions))
	for _, q := range ex.FollowUpQuestions {
		followUps = append(followUps, &types.AttributeValueMemberS{Value: q})
	}
	return map[string]types.AttributeValue{
		"PK":                 &types.AttributeValueMemberS{Value: userPK(ex.UserID)},
		"SK":                 &types.AttributeValueMemberS{Value: exchangeSK(ex.CompletedAt, ex.ID)},
		"exchangeId":         &types.AttributeValueMemberS{Value: ex.ID},
		"userId":             &types.AttributeValueMemberS{Value: ex.UserID},
		"message":            &types.AttributeValueMemberS{Value: ex.Message},
		"response":           &types.AttributeValueMemberS{Value: ex.Response},
		"followUps":          &types.AttributeValueMemberL{Value: followUps},
		"name":               &types.AttributeValueMemberS{Value: ex.Profile.Name},
		"originCountry":      &types.AttributeValueMemberS{Value: ex.Profile.OriginCountry},
		"destinationCountry": &types.AttributeValueMemberS{Value: ex.Profile.DestinationCountry},
		"loanAmount":         &types.AttributeValueMemberN{Value: ex.Profile.LoanAmountNeeded.String()},
		"courseOfStudy":      &types.AttributeValueMemberS{Value: ex.Profile.CourseOfStudy},
		"completedAt":        &types.AttributeValueMemberS{Value: ex.CompletedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":                &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToExchange converts a DynamoDB attribute map to an Exchange.
func itemToExchange(item map[string]types.AttributeValue) (domain.Exchange, error) {
	id, err := strAttr(item, "exchangeId")
	if err != nil {
		return domain.Exchange{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Exchange{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.Exchange{}, err
	}
	response, err := strAttr(item, "response")
	if err != nil {
		return domain.Exchange{}, err
	}
	rawTS, err := strAttr(item, "completedAt")
	if err != nil {
		return domain.Exchange{}, err
	}
	completedAt, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: parse attribute %q: %w", "completedAt", err)
	}

	ex := domain.Exchange{
		ID:                id,
		UserID:            userID,
		Message:           message,
		Response:          response,
		FollowUpQuestions: stringList(item, "followUps"),
		CompletedAt:       completedAt,
	}
	// Profile attributes are informational; older items may lack them.
	ex.Profile.UserID = userID
	ex.Profile.Name, _ = strAttr(item, "name")
	ex.Profile.OriginCountry, _ = strAttr(item, "originCountry")
	ex.Profile.DestinationCountry, _ = strAttr(item, "destinationCountry")
	ex.Profile.CourseOfStudy, _ = strAttr(item, "courseOfStudy")
	if n, ok := item["loanAmount"].(*types.AttributeValueMemberN); ok {
		if amount, err := decimal.NewFromString(n.Value); err == nil {
			ex.Profile.LoanAmountNeeded = amount
		}
	}
	return ex, nil
}

func stringList(item map[string]types.AttributeValue, key string) []string {
	out := []string{}
	l, ok := item[key].(*types.AttributeValueMemberL)
	if !ok {
		return out
	}
	for _, v := range l.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
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
