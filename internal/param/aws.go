package param

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
)

type GetParameterAPI interface {
	GetParameter(context.Context, *ssm.GetParameterInput, ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ParameterStoreFetcher struct {
	client GetParameterAPI
}

func NewParameterStoreFetcher(i *do.Injector) (Fetcher, error) {
	return &ParameterStoreFetcher{client: do.MustInvoke[*ssm.Client](i)}, nil
}

func (f *ParameterStoreFetcher) Fetch(ctx context.Context, path string) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("parameter store").With("path", path)
	log.Info("fetching single parameter")

	out, err := f.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("fetching parameter %s: %w", path, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("parameter %s has no value", path)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Resolve returns the parameter at path when one is configured, otherwise
// fallback.
func Resolve(ctx context.Context, f Fetcher, path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	return f.Fetch(ctx, path)
}
