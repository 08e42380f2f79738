package s3

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/manifest"
)

// DynamoDBClient is the subset of *dynamodb.Client the commit store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore keeps the CURRENT pointer in DynamoDB and everything else in
// the wrapped store. Each commit generation is written at most once with a
// conditional put, so two writers racing for the same generation cannot both
// succeed; the loser gets blobstore.ErrExists.
//
// Table schema:
//   - Partition key: base_uri (string), the bucket and prefix of the index
//   - Sort key: version (number), the commit generation
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name segmut-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	blobstore.Store

	client  DynamoDBClient
	table   string
	baseURI string
}

var (
	_ blobstore.Store           = (*CommitStore)(nil)
	_ blobstore.ExclusivePutter = (*CommitStore)(nil)
)

// NewCommitStore wraps store. baseURI identifies the index in table, usually
// "s3://bucket/prefix".
func NewCommitStore(store blobstore.Store, client DynamoDBClient, table, baseURI string) *CommitStore {
	return &CommitStore{Store: store, client: client, table: table, baseURI: baseURI}
}

// NewCommitStoreFromConfig loads the default AWS configuration and returns a
// commit store on bucket with its pointer in table.
func NewCommitStoreFromConfig(ctx context.Context, bucket, prefix, table string, optFns ...func(*config.LoadOptions) error) (*CommitStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, errors.Wrap(err, "s3: load aws config")
	}
	store := NewStore(s3.NewFromConfig(cfg), bucket, prefix)
	baseURI := "s3://" + bucket
	if p := strings.Trim(prefix, "/"); p != "" {
		baseURI += "/" + p
	}
	return NewCommitStore(store, dynamodb.NewFromConfig(cfg), table, baseURI), nil
}

// Open reads CURRENT from DynamoDB and any other blob from the wrapped store.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != manifest.CurrentFileName {
		return s.Store.Open(ctx, name)
	}
	_, path, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.Wrapf(blobstore.ErrNotFound, "s3: no commit for %s", s.baseURI)
	}
	return blobstore.NewBytesBlob([]byte(path)), nil
}

// Put records CURRENT as a new DynamoDB version and forwards any other blob
// to the wrapped store.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != manifest.CurrentFileName {
		return s.Store.Put(ctx, name, data)
	}
	return s.commit(ctx, string(data))
}

// PutIfAbsent forwards to the wrapped store when it supports exclusive puts.
// Otherwise it checks for name first, which is not atomic.
func (s *CommitStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	if ep, ok := s.Store.(blobstore.ExclusivePutter); ok {
		return ep.PutIfAbsent(ctx, name, data)
	}
	b, err := s.Store.Open(ctx, name)
	switch {
	case err == nil:
		_ = b.Close()
		return errors.Wrapf(blobstore.ErrExists, "s3: %s", name)
	case !errors.Is(err, blobstore.ErrNotFound):
		return err
	}
	return s.Store.Put(ctx, name, data)
}

func (s *CommitStore) latest(ctx context.Context) (int64, string, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uri": &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", errors.Wrapf(err, "s3: query %s", s.table)
	}
	if len(out.Items) == 0 {
		return 0, "", nil
	}

	item := out.Items[0]
	v, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.Newf("s3: commit item of %s has no version", s.baseURI)
	}
	path, ok := item["manifest_path"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.Newf("s3: commit item of %s has no manifest_path", s.baseURI)
	}
	gen, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, "", errors.Wrapf(err, "s3: commit version %q", v.Value)
	}
	return gen, path.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, path string) error {
	gen, ok := manifest.ParseFileName(strings.TrimSpace(path))
	if !ok {
		return errors.Newf("s3: CURRENT must name a segments file, got %q", path)
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			"base_uri":      &ddbtypes.AttributeValueMemberS{Value: s.baseURI},
			"version":       &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(gen, 10)},
			"manifest_path": &ddbtypes.AttributeValueMemberS{Value: path},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return errors.Wrapf(blobstore.ErrExists, "s3: commit %d of %s", gen, s.baseURI)
		}
		return errors.Wrapf(err, "s3: commit %d of %s", gen, s.baseURI)
	}
	return nil
}
