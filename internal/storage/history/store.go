// Package history persists chat messages in BadgerDB. Voice notes are
// written to WAV files and stored by reference.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/chatline/internal/adapters/audio"
	"github.com/dkeye/chatline/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	messagePrefix = "hist:"
	indexPrefix   = "hidx:"
)

type Options struct {
	Path     string
	InMemory bool
	AudioDir string
}

type Store struct {
	db       *badger.DB
	audioDir string
	ownsDB   bool
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLoggingLevel(badger.WARNING)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := New(db, opts.AudioDir)
	s.ownsDB = true
	return s, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badger.DB, audioDir string) *Store {
	return &Store{db: db, audioDir: audioDir}
}

// Append stores msg under chatKey. Messages are keyed
// "hist:{chatKey}:{unix nanos, 19 digits}:{id}" so a prefix scan returns
// them in chronological order. A message whose ID is already stored is
// ignored. Fresh audio bytes are written to a WAV file first and only the
// file reference is kept.
func (s *Store) Append(ctx context.Context, chatKey string, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	seen, err := s.has(msg.ID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	var written string
	if msg.IsAudio() && len(msg.AudioBytes) > 0 {
		path, err := s.saveAudio(msg)
		if err != nil {
			return err
		}
		written = path
		format := audioFormatOf(msg)
		msg = msg.WithoutAudioBytes()
		msg.AudioFilePath = path
		msg.AudioFormat = &format
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	key := messageKey(chatKey, msg.Timestamp, msg.ID)
	idx := []byte(indexPrefix + msg.ID)

	stored := true
	var existingPath string
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idx)
		if err == nil {
			stored = false
			existingPath, err = audioPathAt(txn, item)
			return err
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
	if err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	// A concurrent Append of the same ID won; drop our file unless the
	// winner's record points at the same path.
	if !stored && written != "" && written != existingPath {
		_ = os.Remove(written)
	}
	return nil
}

// audioPathAt follows an index entry to its message and returns the audio
// file it references, if any.
func audioPathAt(txn *badger.Txn, idx *badger.Item) (string, error) {
	key, err := idx.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	var m domain.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil
	}
	return m.AudioFilePath, nil
}

// LoadAll returns every message of chatKey, oldest first.
func (s *Store) LoadAll(ctx context.Context, chatKey string) ([]domain.Message, error) {
	prefix := []byte(messagePrefix + chatKey + ":")
	var out []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var m domain.Message
			if err := json.Unmarshal(raw, &m); err != nil {
				log.Warn().Str("module", "storage.history").Str("key", string(it.Item().Key())).Err(err).Msg("skip unreadable message")
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", chatKey, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) has(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(indexPrefix + id))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) saveAudio(msg domain.Message) (string, error) {
	dir := s.audioDir
	if dir == "" {
		dir = "audio"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%d_%s.wav", safeName(msg.From.Username), safeName(msg.To.Username), msg.Timestamp.UnixMilli(), safeName(msg.ID))
	path := filepath.Join(dir, name)

	// Write aside and rename so a reader never sees a half written file.
	tmp := path + ".tmp-" + uuid.NewString()
	if err := audio.WriteWAV(tmp, msg.AudioBytes, audioFormatOf(msg)); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("save audio %s: %w", path, err)
	}
	return path, nil
}

func audioFormatOf(msg domain.Message) domain.AudioFormat {
	if msg.AudioFormat != nil {
		return *msg.AudioFormat
	}
	return domain.VoiceFormat
}

func messageKey(chatKey string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix, chatKey, at.UnixNano(), id))
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}
