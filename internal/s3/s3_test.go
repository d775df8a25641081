package s3_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	s3client "textcat-backend/internal/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Api struct {
	s3client.S3Api

	createBucketErr error
	listPages       [][]types.Object
	listCalls       int
	deleteBatches   [][]types.ObjectIdentifier
}

func (m *mockS3Api) CreateBucket(ctx context.Context, params *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	if m.createBucketErr != nil {
		return nil, m.createBucketErr
	}
	return &awss3.CreateBucketOutput{}, nil
}

func (m *mockS3Api) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	page := m.listPages[m.listCalls]
	m.listCalls++
	truncated := m.listCalls < len(m.listPages)
	out := &awss3.ListObjectsV2Output{
		Contents:    page,
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = aws.String(fmt.Sprintf("token-%d", m.listCalls))
	}
	return out, nil
}

func (m *mockS3Api) DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	m.deleteBatches = append(m.deleteBatches, params.Delete.Objects)
	return &awss3.DeleteObjectsOutput{}, nil
}

func object(key string) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(10)}
}

func TestParseS3Path(t *testing.T) {
	bucket, key, err := s3client.ParseS3Path("s3://my-bucket/some/nested/key.csv")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "some/nested/key.csv", key)

	bucket, key, err = s3client.ParseS3Path("s3://my-bucket")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "", key)

	_, _, err = s3client.ParseS3Path("https://my-bucket/key")
	assert.Error(t, err)
}

func TestCreateBucketIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "created", err: nil, wantErr: false},
		{name: "already exists", err: &types.BucketAlreadyExists{}, wantErr: false},
		{name: "already owned", err: &types.BucketAlreadyOwnedByYou{}, wantErr: false},
		{name: "access denied", err: errors.New("AccessDenied"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockS3Api{createBucketErr: tt.err}
			client := s3client.NewFromClient(mock, "pipeline-bucket")

			err := client.CreateBucket(context.Background(), "pipeline-bucket")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListFilesSkipsDirectoryMarkers(t *testing.T) {
	mock := &mockS3Api{listPages: [][]types.Object{
		{object("data/"), object("data/part-00000"), object("data/part-00001")},
		{object("data/part-00002")},
	}}
	client := s3client.NewFromClient(mock, "bucket")

	keys, err := client.ListFiles(context.Background(), "bucket", "data/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/part-00000", "data/part-00001", "data/part-00002"}, keys)
	assert.Equal(t, 2, mock.listCalls)
}

func TestDeleteObjectsBatches(t *testing.T) {
	var page []types.Object
	for i := 0; i < 1500; i++ {
		page = append(page, object(fmt.Sprintf("staged/row-%04d", i)))
	}
	mock := &mockS3Api{listPages: [][]types.Object{page}}
	client := s3client.NewFromClient(mock, "bucket")

	err := client.DeleteObjects(context.Background(), "bucket", "staged/")
	require.NoError(t, err)
	require.Len(t, mock.deleteBatches, 2)
	assert.Len(t, mock.deleteBatches[0], 1000)
	assert.Len(t, mock.deleteBatches[1], 500)
}

func TestDeleteObjectsNoKeysIsNoop(t *testing.T) {
	mock := &mockS3Api{listPages: [][]types.Object{{}}}
	client := s3client.NewFromClient(mock, "bucket")

	err := client.DeleteObjects(context.Background(), "bucket", "nothing/")
	require.NoError(t, err)
	assert.Empty(t, mock.deleteBatches)
}
