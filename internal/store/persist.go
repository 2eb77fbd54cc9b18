package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/google/uuid"
)

const (
	RequestFile  = "request.json"
	ResponseFile = "response_body.json"
	MetadataFile = "response_metadata.json"
	PageFile     = "index.html"
)

// Run is the durable record of one successful invocation. A run is written
// once under its own ID and never updated.
type Run struct {
	ID       string
	Location string
	Files    []string
}

type Persister interface {
	Persist(context.Context, canvas.Request, *canvas.Result) (*Run, error)
}

var (
	ErrPersist = errors.New("store: persist failed")
	ErrExists  = errors.New("store: run already exists")
)

// Error reports a failure to persist a run. It always matches ErrPersist so
// callers can tell "generated but not saved" apart from generation failures.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrPersist }

// NewRunID keys a run by its UTC creation time down to the microsecond plus a
// random suffix, so IDs sort by time and rapid calls do not collide.
func NewRunID(now time.Time) string {
	return now.UTC().Format("2006-01-02_15-04-05.000000") + "_" + uuid.NewString()[:8]
}

// ImageName is the index-based file name of the i-th image of a run. Names
// sort in image order.
func ImageName(index int, format string) string {
	ext := format
	switch format {
	case "jpeg":
		ext = "jpg"
	case "":
		ext = "png"
	}
	return fmt.Sprintf("image_%02d.%s", index+1, ext)
}

type artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

func artifacts(req canvas.Request, res *canvas.Result) ([]artifact, error) {
	if res == nil {
		return nil, errors.New("no result to persist")
	}

	request := res.RequestBody
	if len(request) == 0 {
		var err error
		if request, err = json.Marshal(req); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}
	metadata, err := json.MarshalIndent(res.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	arts := []artifact{
		{Name: RequestFile, ContentType: "application/json", Data: request},
		{Name: ResponseFile, ContentType: "application/json", Data: res.RawResponseBody},
		{Name: MetadataFile, ContentType: "application/json", Data: metadata},
	}
	for _, img := range res.Images {
		arts = append(arts, artifact{
			Name:        ImageName(img.Index, img.Format),
			ContentType: "image/" + img.Format,
			Data:        img.Data,
		})
	}
	return arts, nil
}
