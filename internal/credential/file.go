// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileMode restricts the credential file to its owner.
const fileMode fs.FileMode = 0o600

type fileDocument struct {
	Credentials []fileRecord `yaml:"credentials"`
}

type fileRecord struct {
	ID        string `yaml:"id"`
	Secret    string `yaml:"secret"`
	Admin     bool   `yaml:"admin,omitempty"`
	Symmetric bool   `yaml:"symmetric"`
}

// FileVault is a Vault persisted as a YAML document. The whole collection is
// rewritten after every mutation.
type FileVault struct {
	*MemoryVault

	path string
	mu   sync.Mutex // serializes mutate+save
}

// OpenFileVault loads the vault at path, creating an empty one if the file
// does not exist yet. Permissions of an existing file are tightened to 0600.
func OpenFileVault(path string) (*FileVault, error) {
	v := &FileVault{
		MemoryVault: NewMemoryVault(),
		path:        path,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := v.save(); err != nil {
			return nil, err
		}
		return v, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	if err := os.Chmod(path, fileMode); err != nil {
		return nil, fmt.Errorf("failed to protect credential file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	for _, fr := range doc.Credentials {
		secret, err := base64.StdEncoding.DecodeString(fr.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode secret of %q: %w", fr.ID, err)
		}
		v.records[fr.ID] = &Record{ID: fr.ID, Secret: secret, Admin: fr.Admin, Symmetric: fr.Symmetric}
	}
	return v, nil
}

// Put stores rec and rewrites the file. If the file cannot be written the
// previous record is restored, so memory never runs ahead of disk.
func (v *FileVault) Put(ctx context.Context, rec Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, _ := v.MemoryVault.Get(ctx, rec.ID)
	if err := v.MemoryVault.Put(ctx, rec); err != nil {
		return err
	}
	if err := v.save(); err != nil {
		v.restore(rec.ID, prev)
		return err
	}
	return nil
}

func (v *FileVault) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, err := v.MemoryVault.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := v.MemoryVault.Remove(ctx, id); err != nil {
		return err
	}
	if err := v.save(); err != nil {
		v.restore(id, prev)
		return err
	}
	return nil
}

// restore puts prev back under id, or drops id if there was no record.
func (v *FileVault) restore(id string, prev *Record) {
	v.MemoryVault.mu.Lock()
	defer v.MemoryVault.mu.Unlock()
	if prev == nil {
		delete(v.records, id)
		return
	}
	v.records[id] = prev
}

// Path returns the location of the backing file.
func (v *FileVault) Path() string { return v.path }

func (v *FileVault) save() error {
	doc := fileDocument{}
	for _, rec := range v.snapshot() {
		doc.Credentials = append(doc.Credentials, fileRecord{
			ID:        rec.ID,
			Secret:    base64.StdEncoding.EncodeToString(rec.Secret),
			Admin:     rec.Admin,
			Symmetric: rec.Symmetric,
		})
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(v.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to protect credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
