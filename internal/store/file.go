package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/model"
)

// FileBackend keeps the database as one JSON document on local disk.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(f.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}

	log.Info().Str("path", f.path).Msg("creating empty key database")
	return f.Save(ctx, model.NewKeyDatabase())
}

func (f *FileBackend) Load(_ context.Context) (*model.KeyDatabase, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewKeyDatabase(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	db := model.NewKeyDatabase()
	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if db.Keys == nil {
		db.Keys = make(map[string]*model.KeyRecord)
	}
	for k, rec := range db.Keys {
		if rec == nil {
			delete(db.Keys, k)
		}
	}
	return db, nil
}

// Save writes to a temp file in the same directory and renames it over the
// old one, so readers see either the previous or the new document.
func (f *FileBackend) Save(_ context.Context, db *model.KeyDatabase) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key database: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".keys-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Reset moves an unreadable database aside and writes an empty one.
func (f *FileBackend) Reset(ctx context.Context) error {
	quarantine := f.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(f.path, quarantine); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("quarantine %s: %w", f.path, err)
	}
	log.Warn().Str("path", f.path).Str("moved_to", quarantine).Msg("unreadable key database set aside")
	return f.Save(ctx, model.NewKeyDatabase())
}
