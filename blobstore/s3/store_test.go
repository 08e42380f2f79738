package s3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmut/blobstore"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.UploadPartOutput)
	return out, args.Error(1)
}

func (m *mockClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func TestStore_OpenNotFound(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx/")
	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "idx/_0_1.liv"
	})).Return(nil, &types.NotFound{}).Once()

	_, err := s.Open(t.Context(), "_0_1.liv")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	c.AssertExpectations(t)
}

func TestStore_OpenAndReadAt(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx")
	c.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(11)}, nil).Once()
	c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Range) == "bytes=6-10" && aws.ToString(in.Key) == "idx/blob"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("world")))}, nil).Once()

	b, err := s.Open(t.Context(), "blob")
	require.NoError(t, err)
	assert.Equal(t, int64(11), b.Size())

	buf := make([]byte, 8)
	n, err := b.ReadAt(t.Context(), buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "world", string(buf[:n]))

	_, err = b.ReadAt(t.Context(), buf, 11)
	assert.ErrorIs(t, err, io.EOF)
	c.AssertExpectations(t)
}

func TestStore_PutAndDelete(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "")
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "CURRENT" && aws.ToInt64(in.ContentLength) == 10
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	c.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, s.Put(t.Context(), "CURRENT", []byte("segments_1")))
	require.NoError(t, s.Delete(t.Context(), "gone"))
	c.AssertExpectations(t)
}

func TestStore_ListPaginates(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx/")
	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil && aws.ToString(in.Prefix) == "idx/_0"
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("idx/_0_2.liv")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("t1"),
	}, nil).Once()
	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "t1"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("idx/_0_1.liv")}},
	}, nil).Once()

	names, err := s.List(t.Context(), "_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"_0_1.liv", "_0_2.liv"}, names)
	c.AssertExpectations(t)
}

func TestStore_CreateUploadsOnClose(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx")
	var uploaded []byte
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "idx/_0_1.liv"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	w, err := s.Create(t.Context(), "_0_1.liv")
	require.NoError(t, err)
	_, err = w.Write([]byte("live docs"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "live docs", string(uploaded))
	c.AssertExpectations(t)
}

func TestStore_AbortNeverPublishes(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx")

	w, err := s.Create(t.Context(), "_0_1.liv")
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort())
	c.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestNewStoreFromConfig(t *testing.T) {
	s, err := NewStoreFromConfig(context.Background(), "bucket", "/idx/",
		config.WithRegion("eu-central-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("id", "secret", "")),
	)
	require.NoError(t, err)
	assert.Equal(t, "idx/_s0_1.liv", s.key("_s0_1.liv"))
}

func TestStore_PutIfAbsent(t *testing.T) {
	c := new(mockClient)
	s := NewStore(c, "bucket", "idx")
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "idx/segments_1" && aws.ToString(in.IfNoneMatch) == "*"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "idx/segments_2"
	})).Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}).Once()

	require.NoError(t, s.PutIfAbsent(t.Context(), "segments_1", []byte("a")))
	err := s.PutIfAbsent(t.Context(), "segments_2", []byte("b"))
	assert.ErrorIs(t, err, blobstore.ErrExists)
	c.AssertExpectations(t)
}
