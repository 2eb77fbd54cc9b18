package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	keys     []string
	modified map[string]time.Time
	listed   []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listed = append(f.listed, in)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range f.keys {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(in.Key)
	id := strings.Split(key, "/")[1]
	return &s3.HeadObjectOutput{
		LastModified: aws.Time(f.modified[key]),
		Metadata:     map[string]string{"run-id": id, "task-type": "TEXT_IMAGE"},
	}, nil
}

func TestGenerate(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeS3{
		keys: []string{
			"runs/old/index.html",
			"runs/old/image_01.png",
			"runs/new/index.html",
			"runs/new/request.json",
		},
		modified: map[string]time.Time{
			"runs/old/index.html": base,
			"runs/new/index.html": base.Add(time.Hour),
		},
	}

	g := New(client, "canvas", "runs", "https://canvas.example.com/")
	rss, err := g.Generate(context.Background())
	require.NoError(t, err)

	out := string(rss)
	assert.Contains(t, out, "<title>Nova Canvas runs</title>")
	assert.Contains(t, out, "https://canvas.example.com/runs/new/index.html")
	assert.Contains(t, out, "https://canvas.example.com/runs/old/index.html")
	assert.NotContains(t, out, "image_01.png")
	assert.Less(t, strings.Index(out, "runs/new/"), strings.Index(out, "runs/old/"))
	assert.Equal(t, "runs/", aws.ToString(client.listed[0].Prefix))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "runs/feed.xml", New(nil, "b", "runs/", "").Key())
	assert.Equal(t, "feed.xml", New(nil, "b", "", "").Key())
}
