package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/dmorgan81/novacanvas/internal/page"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// S3API is the slice of *s3.Client used to publish runs.
type S3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(context.Context, *s3.DeleteObjectsInput, ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type S3Uploader struct {
	Client S3API
	Bucket string
}

func NewS3Uploader(i *do.Injector) (Uploader, error) {
	return &S3Uploader{
		Client: do.MustInvoke[*s3.Client](i),
		Bucket: do.MustInvoke[*config.Config](i).Bucket,
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With(
		"name", params.Name,
		"content-type", params.ContentType,
		"bucket", u.Bucket,
	)
	log.Info("uploading to s3")

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.Bucket),
		Key:          aws.String(params.Name),
		ContentType:  aws.String(params.ContentType),
		Body:         bytes.NewReader(params.Data),
		Metadata:     params.Metadata,
		StorageClass: s3types.StorageClassIntelligentTiering,
	})
	return err
}

// S3Persister publishes each run under Prefix/<id>/ together with an HTML
// gallery page. If any upload fails the objects already written are deleted.
type S3Persister struct {
	S3Uploader
	Prefix    string
	Templator *page.Templator
	NewID     func() string
}

func NewS3Persister(i *do.Injector) (Persister, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &S3Persister{
		S3Uploader: S3Uploader{Client: do.MustInvoke[*s3.Client](i), Bucket: cfg.Bucket},
		Prefix:     cfg.Prefix,
		Templator:  do.MustInvoke[*page.Templator](i),
	}, nil
}

func (p *S3Persister) Persist(ctx context.Context, req canvas.Request, res *canvas.Result) (*Run, error) {
	now := time.Now()
	id := NewRunID(now)
	if p.NewID != nil {
		id = p.NewID()
	}
	prefix := path.Join(p.Prefix, id) + "/"
	location := fmt.Sprintf("s3://%s/%s", p.Bucket, prefix)
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With("run", id, "location", location)
	log.Info("persisting run")

	arts, err := artifacts(req, res)
	if err != nil {
		return nil, &Error{Op: "encode", Path: location, Err: err}
	}
	html, err := p.Templator.Template(ctx, page.Params{
		RunID:     id,
		TaskType:  string(req.TaskType()),
		Prompt:    req.Prompt(),
		RequestID: res.Metadata.RequestID,
		Created:   now.UTC().Format(time.RFC3339),
		Images:    lo.Map(res.Images, func(img canvas.Image, _ int) string { return ImageName(img.Index, img.Format) }),
	})
	if err != nil {
		return nil, &Error{Op: "render", Path: location, Err: err}
	}
	arts = append(arts, artifact{Name: PageFile, ContentType: "text/html", Data: html})

	existing, err := p.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, &Error{Op: "list", Path: location, Err: err}
	}
	if len(existing.Contents) > 0 {
		return nil, &Error{Op: "create", Path: location, Err: ErrExists}
	}

	metadata := map[string]string{
		"run-id":     id,
		"task-type":  string(req.TaskType()),
		"request-id": res.Metadata.RequestID,
	}

	var (
		mu       sync.Mutex
		uploaded []string
	)
	group, gctx := errgroup.WithContext(ctx)
	for _, a := range arts {
		a := a
		group.Go(func() error {
			key := prefix + a.Name
			err := p.Upload(gctx, UploadParams{Name: key, Data: a.Data, ContentType: a.ContentType, Metadata: metadata})
			if err != nil {
				return fmt.Errorf("uploading %s: %w", a.Name, err)
			}
			mu.Lock()
			uploaded = append(uploaded, key)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		p.cleanup(context.WithoutCancel(ctx), uploaded)
		return nil, &Error{Op: "upload", Path: location, Err: err}
	}

	files := lo.Map(arts, func(a artifact, _ int) string { return a.Name })
	log.Info("persisted run", "files", len(files))
	return &Run{ID: id, Location: location, Files: files}, nil
}

func (p *S3Persister) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	log := log.FromContextOrDiscard(ctx).WithGroup("s3")
	log.Warn("removing partially uploaded run", "keys", keys)

	_, err := p.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.Bucket),
		Delete: &s3types.Delete{
			Objects: lo.Map(keys, func(k string, _ int) s3types.ObjectIdentifier {
				return s3types.ObjectIdentifier{Key: aws.String(k)}
			}),
			Quiet: aws.Bool(true),
		},
	})
	if err != nil {
		log.Error("removing partially uploaded run", "error", err)
	}
}

type CloudFrontAPI interface {
	CreateInvalidation(context.Context, *cloudfront.CreateInvalidationInput, ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

type CloudFrontInvalidator struct {
	Client       CloudFrontAPI
	Distribution string
	now          func() time.Time
}

func NewCloudFrontInvalidator(i *do.Injector) (Invalidator, error) {
	return &CloudFrontInvalidator{
		Client:       do.MustInvoke[*cloudfront.Client](i),
		Distribution: do.MustInvoke[*config.Config](i).Distribution,
	}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	now := time.Now
	if i.now != nil {
		now = i.now
	}
	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(now().UTC().Format("20060102150405.000000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
