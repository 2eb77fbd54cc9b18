package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/dmorgan81/novacanvas/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const Name = "feed.xml"

type S3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Generator builds an RSS feed of the runs published under a bucket prefix.
type Generator struct {
	client  S3API
	bucket  string
	prefix  string
	siteURL string
}

func NewS3Generator(i *do.Injector) (*Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return New(do.MustInvoke[*s3.Client](i), cfg.Bucket, cfg.Prefix, cfg.SiteURL), nil
}

func New(client S3API, bucket, prefix, siteURL string) *Generator {
	return &Generator{client: client, bucket: bucket, prefix: prefix, siteURL: strings.TrimSuffix(siteURL, "/")}
}

// Key is the object key the feed is published under.
func (g *Generator) Key() string {
	if g.prefix == "" {
		return Name
	}
	return strings.TrimSuffix(g.prefix, "/") + "/" + Name
}

func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed", "bucket", g.bucket, "prefix", g.prefix)

	feed := feeds.Feed{
		Title:       "Nova Canvas runs",
		Description: "Images generated with Amazon Nova Canvas",
		Link:        &feeds.Link{Href: g.siteURL},
		Updated:     time.Now(),
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(g.bucket)}
	if g.prefix != "" {
		input.Prefix = aws.String(strings.TrimSuffix(g.prefix, "/") + "/")
	}
	pager := s3.NewListObjectsV2Paginator(g.client, input)

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		objs := lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			return strings.HasSuffix(aws.ToString(o.Key), "/"+store.PageFile)
		})

		for _, obj := range objs {
			obj := obj
			group.Go(func() error {
				out, err := g.client.HeadObject(gctx, &s3.HeadObjectInput{
					Bucket: aws.String(g.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					return err
				}

				meta := out.Metadata
				item := &feeds.Item{
					Id:      meta["run-id"],
					Title:   fmt.Sprintf("%s %s", meta["task-type"], meta["run-id"]),
					Link:    &feeds.Link{Href: g.siteURL + "/" + aws.ToString(obj.Key)},
					Updated: aws.ToTime(out.LastModified),
				}
				mu.Lock()
				feed.Add(item)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Updated.After(b.Updated)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
