package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/feed"
	"github.com/dmorgan81/novacanvas/internal/seed"
	"github.com/dmorgan81/novacanvas/internal/store"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	result *canvas.Result
	err    error
	got    []canvas.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req canvas.Request) (*canvas.Result, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

type fakePersister struct {
	run   *store.Run
	err   error
	calls int
}

func (f *fakePersister) Persist(context.Context, canvas.Request, *canvas.Result) (*store.Run, error) {
	f.calls++
	return f.run, f.err
}

type recordingUploader struct {
	uploads []store.UploadParams
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, params store.UploadParams) error {
	u.uploads = append(u.uploads, params)
	return u.err
}

type recordingInvalidator struct {
	paths [][]string
	err   error
}

func (i *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	i.paths = append(i.paths, paths)
	return i.err
}

type emptyBucket struct {
	err error
}

func (b emptyBucket) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}, nil
}

func (emptyBucket) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, errors.New("unexpected head")
}

func testInput() Input {
	return Input{Request: canvas.Request{
		Params: canvas.TextImageParams{Text: "a lake at sunset"},
		Config: &canvas.ImageGenerationConfig{NumberOfImages: lo.ToPtr(1), Seed: lo.ToPtr[int64](3)},
	}}
}

func testResult() *canvas.Result {
	return &canvas.Result{
		Images:   []canvas.Image{{Index: 0, Format: "png", Data: []byte("png")}},
		Metadata: canvas.ResponseMetadata{RequestID: "req-1", Attempts: 2},
	}
}

func newTestHandler(inv canvas.Invoker, p store.Persister) *Handler {
	return &Handler{randomizer: seed.New(rand.NewSource(1)), invoker: inv, persister: p}
}

func TestHandle(t *testing.T) {
	inv := &fakeInvoker{result: testResult()}
	p := &store.DirPersister{Root: t.TempDir(), NewID: func() string { return "run-1" }}

	out, err := newTestHandler(inv, p).Handle(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, 2, out.Attempts)
	assert.Contains(t, out.Files, "image_01.png")
	assert.Equal(t, testInput().Request, inv.got[0])
}

func TestHandleRandomSeed(t *testing.T) {
	inv := &fakeInvoker{result: testResult()}
	input := testInput()
	input.RandomSeed = true

	_, err := newTestHandler(inv, &fakePersister{run: &store.Run{ID: "r"}}).Handle(context.Background(), input)
	require.NoError(t, err)

	sent := inv.got[0]
	require.NotNil(t, sent.Config.Seed)
	assert.Equal(t, int64(3), *input.Request.Config.Seed)
	assert.LessOrEqual(t, *sent.Config.Seed, int64(seed.Max))
}

func TestHandleGatewayFailureSkipsPersist(t *testing.T) {
	inv := &fakeInvoker{err: &canvas.Error{Kind: canvas.KindValidation, Message: "bad width"}}
	p := &fakePersister{}

	_, err := newTestHandler(inv, p).Handle(context.Background(), testInput())
	assert.ErrorIs(t, err, canvas.ErrValidation)
	assert.NotErrorIs(t, err, store.ErrPersist)
	assert.Zero(t, p.calls)
}

func TestHandlePersistFailureIsDistinct(t *testing.T) {
	inv := &fakeInvoker{result: testResult()}
	p := &fakePersister{err: &store.Error{Op: "write", Path: "x", Err: errors.New("disk full")}}

	_, err := newTestHandler(inv, p).Handle(context.Background(), testInput())
	assert.ErrorIs(t, err, store.ErrPersist)

	var cerr *canvas.Error
	assert.False(t, errors.As(err, &cerr))
}

func TestHandlePublishesFeed(t *testing.T) {
	up := &recordingUploader{}
	h := newTestHandler(&fakeInvoker{result: testResult()}, &fakePersister{run: &store.Run{ID: "r"}})
	h.feed = feed.New(emptyBucket{}, "canvas", "runs", "https://canvas.example.com")
	h.uploader = up

	_, err := h.Handle(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, up.uploads, 1)
	assert.Equal(t, "runs/feed.xml", up.uploads[0].Name)
	assert.Equal(t, "application/rss+xml", up.uploads[0].ContentType)
	assert.Contains(t, string(up.uploads[0].Data), "<rss")
}

func TestHandleFeedFailureKeepsRun(t *testing.T) {
	up := &recordingUploader{}
	h := newTestHandler(&fakeInvoker{result: testResult()}, &fakePersister{run: &store.Run{ID: "r"}})
	h.feed = feed.New(emptyBucket{err: errors.New("list denied")}, "canvas", "runs", "")
	h.uploader = up

	out, err := h.Handle(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "r", out.RunID)
	assert.Empty(t, up.uploads)
}

func TestHandleInvalidatesFeed(t *testing.T) {
	inv := &recordingInvalidator{}
	h := newTestHandler(&fakeInvoker{result: testResult()}, &fakePersister{run: &store.Run{ID: "r"}})
	h.feed = feed.New(emptyBucket{}, "canvas", "runs", "https://canvas.example.com")
	h.uploader = &recordingUploader{}
	h.invalidator = inv

	_, err := h.Handle(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/runs/feed.xml"}}, inv.paths)
}

func TestHandleInvalidationFailureKeepsRun(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("too many invalidations in progress")}
	h := newTestHandler(&fakeInvoker{result: testResult()}, &fakePersister{run: &store.Run{ID: "r"}})
	h.feed = feed.New(emptyBucket{}, "canvas", "runs", "")
	h.uploader = &recordingUploader{}
	h.invalidator = inv

	out, err := h.Handle(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "r", out.RunID)
	assert.Len(t, inv.paths, 1)
}

func TestHandleSkipsInvalidationWhenUploadFails(t *testing.T) {
	inv := &recordingInvalidator{}
	h := newTestHandler(&fakeInvoker{result: testResult()}, &fakePersister{run: &store.Run{ID: "r"}})
	h.feed = feed.New(emptyBucket{}, "canvas", "runs", "")
	h.uploader = &recordingUploader{err: errors.New("access denied")}
	h.invalidator = inv

	_, err := h.Handle(context.Background(), testInput())
	require.NoError(t, err)
	assert.Empty(t, inv.paths)
}

func TestInputJSON(t *testing.T) {
	var input Input
	require.NoError(t, json.Unmarshal([]byte(`{
		"request": {
			"taskType": "COLOR_GUIDED_GENERATION",
			"colorGuidedGenerationParams": {"text": "dreamy", "colors": ["#81FC81"]},
			"imageGenerationConfig": {"numberOfImages": 2, "quality": "premium"}
		},
		"randomSeed": true
	}`), &input))

	assert.True(t, input.RandomSeed)
	assert.Equal(t, canvas.TaskColorGuidedGeneration, input.Request.TaskType())
	assert.Equal(t, lo.ToPtr(2), input.Request.Config.NumberOfImages)
}
