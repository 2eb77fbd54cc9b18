package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cenkalti/backoff/v4"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
)

const (
	DefaultModelID        = "amazon.nova-canvas-v1:0"
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 8 * time.Second
	DefaultAttemptTimeout = 90 * time.Second

	contentTypeJSON = "application/json"
)

// InvokeModelAPI is the slice of *bedrockruntime.Client the Gateway needs.
type InvokeModelAPI interface {
	InvokeModel(context.Context, *bedrockruntime.InvokeModelInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Gateway invokes the image model through a client handle supplied by the
// caller. A Gateway holds no per-call state and may be shared by concurrent
// invocations for as long as its client is usable.
type Gateway struct {
	client         InvokeModelAPI
	modelID        string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
}

type Option func(*Gateway)

func WithModelID(id string) Option {
	return func(g *Gateway) {
		if id != "" {
			g.modelID = id
		}
	}
}

// WithMaxAttempts bounds the total number of calls per invocation, first
// attempt included.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(g *Gateway) {
		if initial > 0 {
			g.initialBackoff = initial
		}
		if max > 0 {
			g.maxBackoff = max
		}
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(client InvokeModelAPI, opts ...Option) *Gateway {
	g := &Gateway{
		client:         client,
		modelID:        DefaultModelID,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		attemptTimeout: DefaultAttemptTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func NewBedrockGateway(i *do.Injector) (Invoker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return New(do.MustInvoke[*bedrockruntime.Client](i),
		WithModelID(do.MustInvokeNamed[string](i, "model_id")),
		WithMaxAttempts(cfg.MaxAttempts),
		WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		WithAttemptTimeout(cfg.AttemptTimeout),
	), nil
}

// Invoke sends req to the model and returns the decoded result. Timeouts and
// throttling are retried with exponential backoff up to the attempt budget;
// every other failure is returned on the spot as an *Error.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("gateway").With("model", g.modelID, "taskType", req.TaskType())

	if err := req.Validate(); err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	var (
		attempts int
		out      *bedrockruntime.InvokeModelOutput
	)
	started := g.now()
	op := func() error {
		attempts++
		log.Info("invoking model", "attempt", attempts)

		actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()

		o, err := g.client.InvokeModel(actx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(g.modelID),
			Body:        body,
			ContentType: aws.String(contentTypeJSON),
			Accept:      aws.String(contentTypeJSON),
		})
		if err == nil {
			out = o
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		cerr := classify(err)
		if !cerr.Retryable() {
			return backoff.Permanent(cerr)
		}
		log.Warn("transient failure", "attempt", attempts, "error", err)
		return cerr
	}

	if err := backoff.Retry(op, g.policy(ctx)); err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.Attempts = attempts
		}
		log.Error("invocation failed", "attempts", attempts, "error", err)
		return nil, err
	}
	finished := g.now()

	images, cerr := decodeImages(out.Body, req.expectedImages())
	if cerr != nil {
		cerr.Attempts = attempts
		log.Error("unusable response", "error", cerr)
		return nil, cerr
	}

	md := ResponseMetadata{
		ModelID:     g.modelID,
		ContentType: aws.ToString(out.ContentType),
		Attempts:    attempts,
		StartedAt:   started.UTC(),
		FinishedAt:  finished.UTC(),
		Duration:    finished.Sub(started),
	}
	if id, ok := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata); ok {
		md.RequestID = id
	}
	if resp, ok := awsmiddleware.GetRawResponse(out.ResultMetadata).(*smithyhttp.Response); ok {
		md.HTTPStatusCode = resp.StatusCode
	}

	log.Info("model returned images", "count", len(images), "requestId", md.RequestID, "attempts", attempts)
	return &Result{
		Images:          images,
		RequestBody:     body,
		RawResponseBody: out.Body,
		Metadata:        md,
	}, nil
}

func (g *Gateway) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initialBackoff
	b.MaxInterval = g.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxAttempts-1)), ctx)
}
