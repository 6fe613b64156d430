package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"regjournal/commands"
	"regjournal/domain/command"
	"regjournal/infra/kv"
)

// ErrAlreadyRegistered reports a data-set code that already has a row,
// metadata or a store directory.
var ErrAlreadyRegistered = errors.New("data set already registered")

// RegisterRequest asks for one incoming file to be registered as a data set.
type RegisterRequest struct {
	IncomingPath string
	Code         string // generated when empty
	Kind         string
	Owner        string
}

type RegisterResult struct {
	Code     string
	Location string
	BlobKey  string
	EventID  string
	Journal  string
}

// Pipeline registers data sets. Each registration runs in its own
// transaction so a failure at any step undoes the earlier ones.
type Pipeline struct {
	m        *Manager
	deps     commands.Deps
	storeDir string
	log      *slog.Logger
}

func NewPipeline(m *Manager, deps commands.Deps, storeDir string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{m: m, deps: deps, storeDir: storeDir, log: log.With("component", "pipeline")}
}

func (p *Pipeline) RegisterDataSet(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if req.IncomingPath == "" {
		return RegisterResult{}, fmt.Errorf("register: incoming path required")
	}
	code := req.Code
	if code == "" {
		code = strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
	}
	kind := req.Kind
	if kind == "" {
		kind = "UNKNOWN"
	}
	name := filepath.Base(req.IncomingPath)
	location := filepath.Join(p.storeDir, code)
	stored := filepath.Join(location, name)
	res := RegisterResult{
		Code:     code,
		Location: location,
		BlobKey:  code + "/" + name,
		EventID:  uuid.NewString(),
	}

	if err := p.checkUnregistered(ctx, code, location); err != nil {
		return RegisterResult{}, err
	}

	tx, err := p.m.Begin(ctx)
	if err != nil {
		return RegisterResult{}, err
	}
	res.Journal = tx.Name()

	steps := []func() (command.Command, error){
		func() (command.Command, error) { return commands.NewMakeDir(location), nil },
		func() (command.Command, error) { return commands.NewMoveFile(req.IncomingPath, stored), nil },
		func() (command.Command, error) {
			return commands.NewStoreBlob(ctx, p.deps.Blobs, res.BlobKey, stored, mime.TypeByExtension(filepath.Ext(name)))
		},
		func() (command.Command, error) {
			return commands.NewSetMetadata(p.deps.Metadata, kv.MetadataKey(code, "owner"), []byte(req.Owner))
		},
		func() (command.Command, error) {
			return commands.NewSetMetadata(p.deps.Metadata, kv.MetadataKey(code, "kind"), []byte(kind))
		},
		func() (command.Command, error) {
			return commands.NewInsertDataSet(ctx, p.deps.DataSets, code, location, kind)
		},
		func() (command.Command, error) {
			return commands.NewPublishEvent(p.deps.Events, res.EventID, code), nil
		},
	}
	for _, build := range steps {
		cmd, err := build()
		if err == nil {
			err = tx.Do(ctx, cmd)
		}
		if err != nil {
			p.log.Warn("registration failed, rolling back", "code", code, "journal", tx.Name(), "err", err)
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return res, errors.Join(err, rbErr)
			}
			return res, fmt.Errorf("register %s: %w", code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	p.log.Info("data set registered", "code", code, "location", location)
	return res, nil
}

var errFound = errors.New("found")

// checkUnregistered fails with ErrAlreadyRegistered when any trace of code
// is present.
func (p *Pipeline) checkUnregistered(ctx context.Context, code, location string) error {
	if p.deps.DataSets != nil {
		_, ok, err := p.deps.DataSets.GetDataSet(ctx, code)
		if err != nil {
			return fmt.Errorf("look up %s: %w", code, err)
		}
		if ok {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, code)
		}
	}
	if p.deps.Metadata != nil {
		err := p.deps.Metadata.Scan(kv.MetadataPrefix(code), func(string, []byte) error { return errFound })
		switch {
		case errors.Is(err, errFound):
			return fmt.Errorf("%w: %s has metadata", ErrAlreadyRegistered, code)
		case err != nil:
			return fmt.Errorf("scan metadata of %s: %w", code, err)
		}
	}
	if _, err := os.Lstat(location); err == nil {
		return fmt.Errorf("%w: %s exists", ErrAlreadyRegistered, location)
	}
	return nil
}
