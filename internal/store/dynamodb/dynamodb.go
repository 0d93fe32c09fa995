// Package dynamodb implements the invitation repository on Amazon DynamoDB.
//
// Invitations and link reservations share one table keyed by "id"; the
// activity trail lives in a second table keyed by invitationId and seq.
// Every write is a TransactWriteItems call so the invitation and its
// activity land together.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

func init() {
	store.Register("dynamodb", NewDriver)
}

// Options is decoded from [store.drivers.dynamodb].
type Options struct {
	Region           string `mapstructure:"region"`
	Endpoint         string `mapstructure:"endpoint"` // e.g. http://localhost:8000 for DynamoDB Local
	InvitationsTable string `mapstructure:"invitations_table"`
	ActivitiesTable  string `mapstructure:"activities_table"`
	CreateTables     bool   `mapstructure:"create_tables"`
}

func (o *Options) ApplyDefaults() {
	if o.InvitationsTable == "" {
		o.InvitationsTable = "circleinvite_invitations"
	}
	if o.ActivitiesTable == "" {
		o.ActivitiesTable = "circleinvite_activities"
	}
}

// API is the subset of the DynamoDB client the driver uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Driver implements store.Repository over DynamoDB.
type Driver struct {
	opts   Options
	client API
}

// NewDriver creates the driver. The client is built in Init.
func NewDriver(c *store.DriverConfig) (store.Repository, error) {
	var opts Options
	if err := cfg.Decode(c.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid dynamodb options: %w", err)
	}
	return &Driver{opts: opts}, nil
}

// NewWithClient creates a driver around an existing client.
func NewWithClient(client API, opts Options) *Driver {
	opts.ApplyDefaults()
	return &Driver{opts: opts, client: client}
}

func (d *Driver) Name() string { return "dynamodb" }

// Init builds the client from the default AWS credential chain and
// optionally creates the tables.
func (d *Driver) Init(ctx context.Context) error {
	if d.client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if d.opts.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(d.opts.Region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		endpoint := d.opts.Endpoint
		d.client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}

	if d.opts.CreateTables {
		if err := d.createTables(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) Close() error { return nil }

func (d *Driver) createTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{
		{
			TableName:   aws.String(d.opts.InvitationsTable),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
		},
		{
			TableName:   aws.String(d.opts.ActivitiesTable),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("invitationId"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("seq"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("invitationId"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("seq"), KeyType: types.KeyTypeRange},
			},
		},
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	for _, in := range tables {
		_, err := d.client.CreateTable(ctx, in)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create table '%s': %w", *in.TableName, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, 2*time.Minute); err != nil {
			return fmt.Errorf("table '%s' did not become active: %w", *in.TableName, err)
		}
	}
	return nil
}

func (d *Driver) Create(ctx context.Context, inv invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	inv = inv.Clone()
	inv.Version = 1

	invItem, err := attributevalue.MarshalMap(toItem(inv))
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to marshal invitation: %w", err)
	}
	actItem, err := attributevalue.MarshalMap(toActivityItem(act))
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to marshal activity: %w", err)
	}

	writes := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(d.opts.InvitationsTable),
			Item:                invItem,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		}},
		{Put: &types.Put{
			TableName: aws.String(d.opts.ActivitiesTable),
			Item:      actItem,
		}},
	}
	if inv.Link != "" {
		linkAV, err := attributevalue.MarshalMap(linkItem{ID: linkKeyPrefix + inv.Link, Kind: kindLink, InvitationID: inv.ID})
		if err != nil {
			return invitations.Invitation{}, fmt.Errorf("failed to marshal link: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(d.opts.InvitationsTable),
			Item:                linkAV,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		}})
	}

	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if conditionFailed(err) {
			return invitations.Invitation{}, store.ErrAlreadyExists
		}
		return invitations.Invitation{}, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

func (d *Driver) Get(ctx context.Context, id string) (invitations.Invitation, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.opts.InvitationsTable),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to get invitation: %w", err)
	}
	if out.Item == nil {
		return invitations.Invitation{}, store.ErrNotFound
	}

	var item invitationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to unmarshal invitation: %w", err)
	}
	if item.Kind != kindInvitation {
		return invitations.Invitation{}, store.ErrNotFound
	}
	return item.invitation()
}

func (d *Driver) GetByLink(ctx context.Context, link string) (invitations.Invitation, error) {
	if link == "" {
		return invitations.Invitation{}, store.ErrNotFound
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.opts.InvitationsTable),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: linkKeyPrefix + link}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to get link: %w", err)
	}
	if out.Item == nil {
		return invitations.Invitation{}, store.ErrNotFound
	}

	var li linkItem
	if err := attributevalue.UnmarshalMap(out.Item, &li); err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to unmarshal link: %w", err)
	}
	return d.Get(ctx, li.InvitationID)
}

// List scans the invitations table. Filters are applied after decoding so
// the case-insensitive email match behaves like the other drivers.
func (d *Driver) List(ctx context.Context, f store.Filter) ([]invitations.Invitation, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                 aws.String(d.opts.InvitationsTable),
		FilterExpression:          aws.String("#k = :kind"),
		ExpressionAttributeNames:  map[string]string{"#k": "kind"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":kind": &types.AttributeValueMemberS{Value: kindInvitation}},
		ConsistentRead:            aws.Bool(true),
	})

	result := make([]invitations.Invitation, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitations: %w", err)
		}
		var items []invitationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invitations: %w", err)
		}
		for _, item := range items {
			inv, err := item.invitation()
			if err != nil {
				return nil, err
			}
			if f.Match(inv) {
				result = append(result, inv)
			}
		}
	}
	store.SortNewestFirst(result)
	return result, nil
}

func (d *Driver) ListPending(ctx context.Context) ([]invitations.Invitation, error) {
	return d.List(ctx, store.Filter{Status: invitations.StatusPending})
}

// CompareAndSwap puts next conditioned on the stored status and version.
func (d *Driver) CompareAndSwap(ctx context.Context, expectStatus invitations.Status, expectVersion int64, next invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	next = next.Clone()
	next.Version = expectVersion + 1

	invItem, err := attributevalue.MarshalMap(toItem(next))
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to marshal invitation: %w", err)
	}
	actItem, err := attributevalue.MarshalMap(toActivityItem(act))
	if err != nil {
		return invitations.Invitation{}, fmt.Errorf("failed to marshal activity: %w", err)
	}

	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(d.opts.InvitationsTable),
				Item:                invItem,
				ConditionExpression: aws.String("attribute_exists(id) AND #s = :expect AND #v = :version"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
					"#v": "version",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":expect":  &types.AttributeValueMemberS{Value: string(expectStatus)},
					":version": &types.AttributeValueMemberN{Value: fmt.Sprint(expectVersion)},
				},
			}},
			{Put: &types.Put{
				TableName: aws.String(d.opts.ActivitiesTable),
				Item:      actItem,
			}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			if _, getErr := d.Get(ctx, next.ID); errors.Is(getErr, store.ErrNotFound) {
				return invitations.Invitation{}, store.ErrNotFound
			}
			return invitations.Invitation{}, store.ErrConflict
		}
		return invitations.Invitation{}, fmt.Errorf("failed to update invitation: %w", err)
	}
	return next, nil
}

func (d *Driver) Activities(ctx context.Context, invitationID string) ([]invitations.Activity, error) {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.opts.ActivitiesTable),
		KeyConditionExpression: aws.String("invitationId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: invitationID},
		},
		ConsistentRead: aws.Bool(true),
	})

	acts := make([]invitations.Activity, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query activities: %w", err)
		}
		var items []activityItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
		}
		for _, item := range items {
			acts = append(acts, item.activity())
		}
	}
	store.SortActivities(acts)
	return acts, nil
}

// conditionFailed reports whether a transaction was cancelled by a failed
// condition check.
func conditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
