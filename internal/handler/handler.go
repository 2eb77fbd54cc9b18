package handler

import (
	"context"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/feed"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/dmorgan81/novacanvas/internal/seed"
	"github.com/dmorgan81/novacanvas/internal/store"
	"github.com/samber/do"
)

type Input struct {
	Request    canvas.Request `json:"request"`
	RandomSeed bool           `json:"randomSeed,omitempty"`
}

type Output struct {
	RunID     string   `json:"runId"`
	Location  string   `json:"location"`
	Files     []string `json:"files"`
	RequestID string   `json:"requestId,omitempty"`
	Attempts  int      `json:"attempts"`
}

type Handler struct {
	randomizer  *seed.Randomizer
	invoker     canvas.Invoker
	persister   store.Persister
	feed        *feed.Generator
	uploader    store.Uploader
	invalidator store.Invalidator
}

func NewHandler(i *do.Injector) (*Handler, error) {
	h := &Handler{
		randomizer: do.MustInvoke[*seed.Randomizer](i),
		invoker:    do.MustInvoke[canvas.Invoker](i),
		persister:  do.MustInvoke[store.Persister](i),
	}
	// The feed is only published alongside the s3 store.
	if gen, err := do.Invoke[*feed.Generator](i); err == nil {
		h.feed = gen
		h.uploader = do.MustInvoke[store.Uploader](i)
	}
	if inv, err := do.Invoke[store.Invalidator](i); err == nil {
		h.invalidator = inv
	}
	return h, nil
}

// Handle generates the requested images and persists them. Generation
// failures come back as *canvas.Error; persistence failures match
// store.ErrPersist.
func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("taskType", input.Request.TaskType())
	log.Info("handling invocation", "randomSeed", input.RandomSeed)

	req := input.Request
	if input.RandomSeed {
		req = h.randomizer.Apply(ctx, req)
	}

	result, err := h.invoker.Invoke(ctx, req)
	if err != nil {
		return Output{}, err
	}

	run, err := h.persister.Persist(ctx, req, result)
	if err != nil {
		log.Error("generated images could not be saved", "error", err)
		return Output{}, err
	}

	if h.feed != nil {
		h.publishFeed(ctx)
	}

	return Output{
		RunID:     run.ID,
		Location:  run.Location,
		Files:     run.Files,
		RequestID: result.Metadata.RequestID,
		Attempts:  result.Metadata.Attempts,
	}, nil
}

// publishFeed refreshes the RSS feed and drops its cached copy. The run is
// already saved, so a failure here is logged and not returned.
func (h *Handler) publishFeed(ctx context.Context) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler")

	rss, err := h.feed.Generate(ctx)
	if err == nil {
		err = h.uploader.Upload(ctx, store.UploadParams{
			Name:        h.feed.Key(),
			Data:        rss,
			ContentType: "application/rss+xml",
		})
	}
	if err != nil {
		log.Warn("refreshing feed", "error", err)
		return
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(ctx, []string{"/" + h.feed.Key()}); err != nil {
			log.Warn("invalidating feed", "error", err)
		}
	}
}
