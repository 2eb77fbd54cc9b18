package canvas

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"
)

// Image is one decoded image of a Result. Data keeps the bytes exactly as the
// model returned them so they can be written without re-encoding.
type Image struct {
	Index  int
	Format string
	Data   []byte
	Raster image.Image
}

type ResponseMetadata struct {
	ModelID        string        `json:"modelId"`
	RequestID      string        `json:"requestId,omitempty"`
	HTTPStatusCode int           `json:"httpStatusCode,omitempty"`
	ContentType    string        `json:"contentType,omitempty"`
	Attempts       int           `json:"attempts"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
	Duration       time.Duration `json:"durationNs"`
}

// Result is the outcome of one successful invocation. It is built once and
// never modified; Images has one element per image in the response, in the
// order the model returned them.
type Result struct {
	Images          []Image
	RequestBody     []byte
	RawResponseBody []byte
	Metadata        ResponseMetadata
}

type responseBody struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

// decodeImages validates a response body and decodes every image in it. Any
// problem with any image rejects the whole body. A negative expected skips
// the count check.
func decodeImages(body []byte, expected int) ([]Image, *Error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("empty response body")
	}

	var resp responseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		e := malformed("decoding response body: %v", err)
		e.Err = err
		return nil, e
	}
	if resp.Error != "" {
		return nil, malformed("model reported error: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, malformed("response contains no images")
	}
	if expected >= 0 && len(resp.Images) != expected {
		return nil, malformed("expected %d images, response contains %d", expected, len(resp.Images))
	}

	images := make([]Image, 0, len(resp.Images))
	for i, encoded := range resp.Images {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			e := malformed("image %d: invalid base64: %v", i, err)
			e.Err = err
			return nil, e
		}
		raster, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			e := malformed("image %d: %v", i, err)
			e.Err = err
			return nil, e
		}
		images = append(images, Image{Index: i, Format: format, Data: data, Raster: raster})
	}
	return images, nil
}
