// Package credstore persists secrets, tokens and requisition ids in a
// dotenv-formatted file.
package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"

	"github.com/ledgerline/bankfeed/internal/apperr"
	"github.com/ledgerline/bankfeed/internal/id"
	"github.com/ledgerline/bankfeed/internal/model"
)

// Keys of the credential file.
const (
	KeySecretID     = "GOCARDLESS_SECRET_ID"
	KeySecretKey    = "GOCARDLESS_SECRET_KEY"
	KeyAccessToken  = "GOCARDLESS_ACCESS_TOKEN"
	KeyRefreshToken = "GOCARDLESS_REFRESH_TOKEN"
)

// legacyKeys maps each key to the name older credential files used for it.
var legacyKeys = map[string]string{
	KeySecretID:     "NORDIGEN_SECRET_ID",
	KeySecretKey:    "NORDIGEN_SECRET_KEY",
	KeyAccessToken:  "NORDIGEN_ACCESS_TOKEN",
	KeyRefreshToken: "NORDIGEN_REFRESH_TOKEN",
}

// Store is a file-backed credential store. Writes replace the whole file
// atomically and are serialized, so readers never see a partial update.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store backed by the dotenv file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted credentials. A key missing from the file falls
// back to its NORDIGEN_ name, then to an empty field. Saves always use the
// current names.
func (s *Store) Load() (model.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return model.Credentials{}, err
	}
	get := func(key string) string {
		if v := kv[key]; v != "" {
			return v
		}
		return kv[legacyKeys[key]]
	}
	return model.Credentials{
		SecretID:     get(KeySecretID),
		SecretKey:    get(KeySecretKey),
		AccessToken:  get(KeyAccessToken),
		RefreshToken: get(KeyRefreshToken),
	}, nil
}

// Save merges fields into the file, leaving every other key untouched.
func (s *Store) Save(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	maps.Copy(kv, fields)
	return s.write(kv)
}

// Delete removes keys from the file. Keys that are not present are ignored.
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := kv[k]; ok {
			delete(kv, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.write(kv)
}

// Requisitions returns the cached requisition id of every connected
// institution, keyed by institution id.
func (s *Store) Requisitions() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return nil, err
	}
	reqs := make(map[string]string)
	for k, v := range kv {
		inst, ok := id.ParseRequisitionKey(k)
		if !ok || v == "" {
			continue
		}
		reqs[inst] = v
	}
	return reqs, nil
}

// Init writes a credential file template at path. An existing file is left
// as is and reported with created=false.
func Init(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, apperr.New(apperr.StoreUnavailable, "stat credential file", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return false, apperr.New(apperr.StoreUnavailable, "creating credential dir", err)
		}
	}
	template := KeySecretID + "=\n" + KeySecretKey + "=\n"
	if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
		return false, apperr.New(apperr.StoreUnavailable, "writing credential template", err)
	}
	return true, nil
}

func (s *Store) read() (map[string]string, error) {
	kv, err := godotenv.Read(s.path)
	if err != nil {
		return nil, apperr.New(apperr.StoreUnavailable, "reading "+s.path, err)
	}
	return kv, nil
}

func (s *Store) write(kv map[string]string) error {
	content, err := godotenv.Marshal(kv)
	if err != nil {
		return apperr.New(apperr.StoreUnavailable, "encoding credentials", err)
	}
	if err := atomic.WriteFile(s.path, strings.NewReader(content+"\n")); err != nil {
		return apperr.New(apperr.StoreUnavailable, "writing "+s.path, fmt.Errorf("atomic write: %w", err))
	}
	return nil
}
