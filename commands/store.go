package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"regjournal/infra/blob"
	"regjournal/infra/sqlstore"
)

var errNoDeps = errors.New("commands: dependency not configured")

// StoreBlob uploads a local file to the blob store under Key. A key that
// was already taken when the command was built is never written or deleted.
type StoreBlob struct {
	Key         string `json:"key"`
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	Existed     bool   `json:"existed,omitempty"`

	blobs blob.Store
}

func NewStoreBlob(ctx context.Context, blobs blob.Store, key, path, contentType string) (*StoreBlob, error) {
	if blobs == nil {
		return nil, errNoDeps
	}
	ok, err := blobs.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check blob %s: %w", key, err)
	}
	return &StoreBlob{Key: key, Path: path, ContentType: contentType, Existed: ok, blobs: blobs}, nil
}

func (c *StoreBlob) Kind() string                   { return KindStoreBlob }
func (c *StoreBlob) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *StoreBlob) String() string                 { return "store blob " + c.Key }

func (c *StoreBlob) Execute(ctx context.Context) error {
	if c.blobs == nil {
		return errNoDeps
	}
	if c.Existed {
		return fmt.Errorf("store blob %s: %w", c.Key, ErrExists)
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.blobs.Put(ctx, c.Key, f, c.ContentType)
}

func (c *StoreBlob) Rollback(ctx context.Context) error {
	if c.blobs == nil {
		return errNoDeps
	}
	if c.Existed {
		return nil
	}
	_, err := c.blobs.Delete(ctx, c.Key)
	return err
}

// SetMetadata writes one metadata property. The previous value is captured
// when the command is built so Rollback can restore it.
type SetMetadata struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Prev    []byte `json:"prev,omitempty"`
	HadPrev bool   `json:"had_prev,omitempty"`

	store MetadataStore
}

func NewSetMetadata(store MetadataStore, key string, value []byte) (*SetMetadata, error) {
	if store == nil {
		return nil, errNoDeps
	}
	prev, ok, err := store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read previous %s: %w", key, err)
	}
	return &SetMetadata{Key: key, Value: value, Prev: prev, HadPrev: ok, store: store}, nil
}

func (c *SetMetadata) Kind() string                   { return KindSetMetadata }
func (c *SetMetadata) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *SetMetadata) String() string                 { return "set " + c.Key }

func (c *SetMetadata) Execute(ctx context.Context) error {
	if c.store == nil {
		return errNoDeps
	}
	return c.store.Put(c.Key, c.Value)
}

func (c *SetMetadata) Rollback(ctx context.Context) error {
	if c.store == nil {
		return errNoDeps
	}
	if c.HadPrev {
		return c.store.Put(c.Key, c.Prev)
	}
	return c.store.Delete(c.Key)
}

// InsertDataSet adds the registration row of a data set. A row that
// already existed when the command was built is left untouched.
type InsertDataSet struct {
	Code     string `json:"code"`
	Location string `json:"location"`
	DataKind string `json:"kind"`
	Existed  bool   `json:"existed,omitempty"`

	store DataSetStore
}

func NewInsertDataSet(ctx context.Context, store DataSetStore, code, location, kind string) (*InsertDataSet, error) {
	if store == nil {
		return nil, errNoDeps
	}
	_, ok, err := store.GetDataSet(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("look up data set %s: %w", code, err)
	}
	return &InsertDataSet{Code: code, Location: location, DataKind: kind, Existed: ok, store: store}, nil
}

func (c *InsertDataSet) Kind() string                   { return KindInsertDataSet }
func (c *InsertDataSet) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *InsertDataSet) String() string                 { return "insert data set " + c.Code }

func (c *InsertDataSet) Execute(ctx context.Context) error {
	if c.store == nil {
		return errNoDeps
	}
	if c.Existed {
		return fmt.Errorf("insert data set %s: %w", c.Code, ErrExists)
	}
	return c.store.InsertDataSet(ctx, sqlstore.DataSet{Code: c.Code, Location: c.Location, Kind: c.DataKind})
}

func (c *InsertDataSet) Rollback(ctx context.Context) error {
	if c.store == nil {
		return errNoDeps
	}
	if c.Existed {
		return nil
	}
	_, err := c.store.DeleteDataSet(ctx, c.Code)
	return err
}
