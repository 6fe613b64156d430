package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrExists is returned by commands that refuse to replace something they
// did not create.
var ErrExists = errors.New("commands: target already exists")

// MoveFile renames Src to Dst. It never replaces an existing Dst, and a Dst
// that existed when the command was built is never moved back.
type MoveFile struct {
	Src     string `json:"src"`
	Dst     string `json:"dst"`
	Existed bool   `json:"existed,omitempty"`
}

func NewMoveFile(src, dst string) *MoveFile {
	return &MoveFile{Src: src, Dst: dst, Existed: exists(dst)}
}

func (c *MoveFile) Kind() string                   { return KindMoveFile }
func (c *MoveFile) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *MoveFile) String() string                 { return fmt.Sprintf("move %s -> %s", c.Src, c.Dst) }

func (c *MoveFile) Execute(ctx context.Context) error {
	if exists(c.Dst) {
		return fmt.Errorf("move to %s: %w", c.Dst, ErrExists)
	}
	return os.Rename(c.Src, c.Dst)
}

// Rollback moves the file back only when it sits at Dst and Src is free.
func (c *MoveFile) Rollback(ctx context.Context) error {
	if c.Existed || !exists(c.Dst) || exists(c.Src) {
		return nil
	}
	return os.Rename(c.Dst, c.Src)
}

// MakeDir creates a directory. A directory that already existed when the
// command was built is left alone in both directions.
type MakeDir struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed,omitempty"`
}

func NewMakeDir(path string) *MakeDir {
	return &MakeDir{Path: path, Existed: exists(path)}
}

func (c *MakeDir) Kind() string                   { return KindMakeDir }
func (c *MakeDir) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *MakeDir) String() string                 { return "mkdir " + c.Path }

func (c *MakeDir) Execute(ctx context.Context) error {
	if c.Existed {
		return nil
	}
	return os.MkdirAll(c.Path, 0o755)
}

// Rollback removes the directory if it is empty.
func (c *MakeDir) Rollback(ctx context.Context) error {
	if c.Existed || !exists(c.Path) {
		return nil
	}
	err := os.Remove(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
