package inject

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/feed"
	"github.com/dmorgan81/novacanvas/internal/handler"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/dmorgan81/novacanvas/internal/page"
	"github.com/dmorgan81/novacanvas/internal/param"
	"github.com/dmorgan81/novacanvas/internal/seed"
	"github.com/dmorgan81/novacanvas/internal/store"
	"github.com/samber/do"
)

func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*config.Config](injector, cfg)
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		return awsconfig.LoadDefaultConfig(ctx, opts...)
	})
	do.Provide[*bedrockruntime.Client](injector, func(i *do.Injector) (*bedrockruntime.Client, error) {
		// The gateway owns the retry budget.
		return bedrockruntime.NewFromConfig(do.MustInvoke[aws.Config](i), func(o *bedrockruntime.Options) {
			o.Retryer = aws.NopRetryer{}
		}), nil
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.ProvideNamed[string](injector, "model_id", func(i *do.Injector) (string, error) {
		return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), cfg.ModelIDParam, cfg.ModelID)
	})

	do.Provide[*seed.Randomizer](injector, seed.NewRandomizer)
	do.Provide[canvas.Invoker](injector, canvas.NewBedrockGateway)
	do.Provide[*page.Templator](injector, page.NewTemplator)

	switch cfg.Store {
	case config.StoreS3:
		do.Provide[store.Persister](injector, store.NewS3Persister)
		do.Provide[store.Uploader](injector, store.NewS3Uploader)
		do.Provide[*feed.Generator](injector, feed.NewS3Generator)
		if cfg.Distribution != "" {
			do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
				return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
			})
			do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
		}
	default:
		do.Provide[store.Persister](injector, store.NewDirPersister)
	}

	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}
