package seed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
)

// Max is the largest seed handed out, matching the range the image form uses.
const Max = 858993459

type Randomizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func New(src rand.Source) *Randomizer {
	return &Randomizer{rnd: rand.New(src)}
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	return New(rand.NewSource(time.Now().UTC().UnixNano())), nil
}

func (r *Randomizer) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Int63n(Max + 1)
}

// Apply returns a copy of req with a fresh random seed, adding a generation
// config when req has none. Background removal takes no config and is
// returned unchanged. req itself is never modified.
func (r *Randomizer) Apply(ctx context.Context, req canvas.Request) canvas.Request {
	log := log.FromContextOrDiscard(ctx).WithGroup("randomizer")
	if req.TaskType() == canvas.TaskBackgroundRemoval {
		log.Warn("random seed ignored, task takes no generation config", "taskType", req.TaskType())
		return req
	}

	var cfg canvas.ImageGenerationConfig
	if req.Config != nil {
		cfg = *req.Config
	}
	seed := r.Seed()
	cfg.Seed = &seed
	log.Info("using random seed", "seed", seed)
	return canvas.Request{Params: req.Params, Config: &cfg}
}
