// Package commands holds the reversible steps of data-set registration.
//
// Every command is stored as JSON. Runtime dependencies (stores, publisher)
// are not serialized; Register binds them when commands are decoded from a
// journal.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"regjournal/domain/command"
	"regjournal/infra/blob"
	"regjournal/infra/kafka"
	"regjournal/infra/sqlstore"
)

const (
	KindMoveFile      = "move-file"
	KindMakeDir       = "make-dir"
	KindStoreBlob     = "store-blob"
	KindSetMetadata   = "set-metadata"
	KindInsertDataSet = "insert-data-set"
	KindPublishEvent  = "publish-event"
)

// MetadataStore is the key/value store SetMetadata writes to.
type MetadataStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Scan(prefix string, fn func(key string, value []byte) error) error
}

// DataSetStore is the registration table InsertDataSet writes to.
type DataSetStore interface {
	InsertDataSet(ctx context.Context, ds sqlstore.DataSet) error
	DeleteDataSet(ctx context.Context, code string) (bool, error)
	GetDataSet(ctx context.Context, code string) (sqlstore.DataSet, bool, error)
}

// Deps are the collaborators commands act on. Nil members are allowed when
// the matching commands are never used.
type Deps struct {
	Blobs    blob.Store
	Metadata MetadataStore
	DataSets DataSetStore
	Events   kafka.Publisher
}

// Register adds a decoder for every command kind to reg.
func Register(reg *command.Registry, deps Deps) error {
	decoders := map[string]command.DecodeFunc{
		KindMoveFile: func(p []byte) (command.Command, error) {
			return decodeInto(p, &MoveFile{})
		},
		KindMakeDir: func(p []byte) (command.Command, error) {
			return decodeInto(p, &MakeDir{})
		},
		KindStoreBlob: func(p []byte) (command.Command, error) {
			return decodeInto(p, &StoreBlob{blobs: deps.Blobs})
		},
		KindSetMetadata: func(p []byte) (command.Command, error) {
			return decodeInto(p, &SetMetadata{store: deps.Metadata})
		},
		KindInsertDataSet: func(p []byte) (command.Command, error) {
			return decodeInto(p, &InsertDataSet{store: deps.DataSets})
		},
		KindPublishEvent: func(p []byte) (command.Command, error) {
			return decodeInto(p, &PublishEvent{events: deps.Events})
		},
	}
	for kind, fn := range decoders {
		if err := reg.Register(kind, fn); err != nil {
			return err
		}
	}
	return nil
}

func decodeInto[T command.Command](payload []byte, c T) (command.Command, error) {
	if err := json.Unmarshal(payload, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.Kind(), err)
	}
	return c, nil
}
