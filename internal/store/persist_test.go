package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"sort"
	"testing"
	"time"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(n int) canvas.Request {
	return canvas.Request{
		Params: canvas.TextImageParams{Text: "a beautiful landscape", NegativeText: "clouds"},
		Config: &canvas.ImageGenerationConfig{NumberOfImages: lo.ToPtr(n), Quality: canvas.QualityStandard, Width: lo.ToPtr(1024), Height: lo.ToPtr(768), CfgScale: lo.ToPtr(7.0), Seed: lo.ToPtr[int64](11)},
	}
}

func testResult(t *testing.T, req canvas.Request) *canvas.Result {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	n := *req.Config.NumberOfImages
	images := make([]canvas.Image, n)
	for i := range images {
		img := image.NewGray(image.Rect(0, 0, 2, i+1))
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		images[i] = canvas.Image{Index: i, Format: "png", Data: buf.Bytes(), Raster: img}
	}
	return &canvas.Result{
		Images:          images,
		RequestBody:     body,
		RawResponseBody: []byte(fmt.Sprintf(`{"images":["..."],"n":%d}`, n)),
		Metadata: canvas.ResponseMetadata{
			ModelID:        "amazon.nova-canvas-v1:0",
			RequestID:      "req-123",
			HTTPStatusCode: 200,
			Attempts:       1,
			StartedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			FinishedAt:     time.Date(2024, 5, 1, 12, 0, 4, 0, time.UTC),
			Duration:       4 * time.Second,
		},
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 45, 123456000, time.UTC)
	id := NewRunID(now)
	assert.Regexp(t, `^2024-05-01_12-30-45\.123456_[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewRunID(now))
}

func TestImageName(t *testing.T) {
	assert.Equal(t, "image_01.png", ImageName(0, "png"))
	assert.Equal(t, "image_05.jpg", ImageName(4, "jpeg"))
	assert.Equal(t, "image_02.png", ImageName(1, ""))

	names := lo.Times(12, func(i int) string { return ImageName(i, "png") })
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, names, sorted)
}

func TestArtifacts(t *testing.T) {
	req := testRequest(2)
	res := testResult(t, req)

	arts, err := artifacts(req, res)
	require.NoError(t, err)

	names := lo.Map(arts, func(a artifact, _ int) string { return a.Name })
	assert.Equal(t, []string{RequestFile, ResponseFile, MetadataFile, "image_01.png", "image_02.png"}, names)
	assert.Equal(t, res.RequestBody, arts[0].Data)
	assert.Equal(t, res.RawResponseBody, arts[1].Data)
	assert.Equal(t, "image/png", arts[3].ContentType)

	var md canvas.ResponseMetadata
	require.NoError(t, json.Unmarshal(arts[2].Data, &md))
	assert.Equal(t, res.Metadata, md)
}

func TestArtifactsEncodesRequestWhenBodyMissing(t *testing.T) {
	req := testRequest(1)
	res := testResult(t, req)
	res.RequestBody = nil

	arts, err := artifacts(req, res)
	require.NoError(t, err)

	var got canvas.Request
	require.NoError(t, json.Unmarshal(arts[0].Data, &got))
	assert.Equal(t, req, got)
}

func TestArtifactsWithoutResult(t *testing.T) {
	_, err := artifacts(testRequest(1), nil)
	assert.Error(t, err)
}

func TestErrorMatchesErrPersist(t *testing.T) {
	err := &Error{Op: "write", Path: "/tmp/x", Err: ErrExists}
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, "store: write /tmp/x: store: run already exists", err.Error())
}
