package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dmorgan81/novacanvas/internal/canvas"
	"github.com/dmorgan81/novacanvas/internal/config"
	"github.com/dmorgan81/novacanvas/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// DirPersister writes each run to its own directory under Root. A run is
// assembled in a hidden temporary directory and renamed into place, so Root
// never holds a partially written run.
type DirPersister struct {
	Root  string
	NewID func() string
}

func NewDirPersister(i *do.Injector) (Persister, error) {
	return &DirPersister{Root: do.MustInvoke[*config.Config](i).OutputDir}, nil
}

func (p *DirPersister) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return NewRunID(time.Now())
}

func (p *DirPersister) Persist(ctx context.Context, req canvas.Request, res *canvas.Result) (*Run, error) {
	id := p.newID()
	final := filepath.Join(p.Root, id)
	log := log.FromContextOrDiscard(ctx).WithGroup("dir").With("run", id, "path", final)
	log.Info("persisting run")

	arts, err := artifacts(req, res)
	if err != nil {
		return nil, &Error{Op: "encode", Path: final, Err: err}
	}

	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return nil, &Error{Op: "mkdir", Path: p.Root, Err: err}
	}
	if _, err := os.Lstat(final); err == nil {
		return nil, &Error{Op: "create", Path: final, Err: ErrExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Op: "stat", Path: final, Err: err}
	}

	tmp, err := os.MkdirTemp(p.Root, "."+id+".tmp-*")
	if err != nil {
		return nil, &Error{Op: "mkdir", Path: p.Root, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			if err := os.RemoveAll(tmp); err != nil {
				log.Warn("removing temporary directory", "tmp", tmp, "error", err)
			}
		}
	}()

	if err := os.Chmod(tmp, 0o755); err != nil {
		return nil, &Error{Op: "chmod", Path: tmp, Err: err}
	}
	for _, a := range arts {
		name := filepath.Join(tmp, a.Name)
		log.Debug("writing", "file", a.Name, "bytes", len(a.Data))
		if err := os.WriteFile(name, a.Data, 0o644); err != nil {
			return nil, &Error{Op: "write", Path: name, Err: err}
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, &Error{Op: "rename", Path: final, Err: err}
	}
	committed = true

	files := lo.Map(arts, func(a artifact, _ int) string { return a.Name })
	log.Info("persisted run", "files", len(files))
	return &Run{ID: id, Location: final, Files: files}, nil
}
