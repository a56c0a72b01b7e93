package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"autobump/internal/domain"
	logx "autobump/pkg/logx"
)

const (
	accountsFile = "selfbots.json"
	channelsFile = "servers.json"
)

// fileStore keeps each collection in its own JSON document under one directory.
//
// Files:
//   - selfbots.json: accounts as an object keyed by account id, in collection order
//   - servers.json: array of channels, in sweep order
//
// Existing selfbots.json/servers.json data directories load unchanged.
type fileStore struct {
	dir string
	log logx.Logger

	mu     sync.Mutex
	closed bool
}

type accountRecord struct {
	Token    string `json:"Token"`
	Name     string `json:"Name"`
	NextBump int64  `json:"NextBumpTimestamp"`
}

type channelRecord struct {
	GuildID     flexID `json:"GuildId"`
	GuildName   string `json:"GuildName"`
	ChannelID   flexID `json:"ChannelId"`
	ChannelName string `json:"ChannelName"`
	NextBump    int64  `json:"NextBumpTimestamp"`
}

// flexID is a snowflake id that decodes from a JSON number or string and
// encodes as a number when it is numeric.
type flexID string

func (id flexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("id %s is not an integer", n)
	}
	*id = flexID(n.String())
	return nil
}

func openFile(cfg Config, log logx.Logger) (DataStore, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	path := filepath.Join(s.dir, accountsFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	accounts, err := decodeAccounts(b)
	if err != nil {
		s.quarantine(path)
		return []domain.Account{}, fmt.Errorf("%w: %s: %v", ErrPersistenceCorrupt, accountsFile, err)
	}
	return accounts, nil
}

func (s *fileStore) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	_ = ctx
	b, err := encodeAccounts(accounts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(filepath.Join(s.dir, accountsFile), b)
}

func (s *fileStore) LoadChannels(ctx context.Context) ([]domain.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	path := filepath.Join(s.dir, channelsFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Channel{}, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []channelRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		s.quarantine(path)
		return []domain.Channel{}, fmt.Errorf("%w: %s: %v", ErrPersistenceCorrupt, channelsFile, err)
	}
	out := make([]domain.Channel, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Channel{
			GuildID:     string(r.GuildID),
			GuildName:   r.GuildName,
			ChannelID:   string(r.ChannelID),
			ChannelName: r.ChannelName,
			NextBump:    r.NextBump,
		})
	}
	return out, nil
}

func (s *fileStore) SaveChannels(ctx context.Context, channels []domain.Channel) error {
	_ = ctx
	recs := make([]channelRecord, 0, len(channels))
	for _, c := range channels {
		recs = append(recs, channelRecord{
			GuildID:     flexID(c.GuildID),
			GuildName:   c.GuildName,
			ChannelID:   flexID(c.ChannelID),
			ChannelName: c.ChannelName,
			NextBump:    c.NextBump,
		})
	}
	b, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(filepath.Join(s.dir, channelsFile), append(b, '\n'))
}

// quarantine moves a corrupt file aside so the next Save can't destroy it.
func (s *fileStore) quarantine(path string) {
	dst := path + ".corrupt"
	if err := os.Rename(path, dst); err != nil {
		s.log.Warn("could not move corrupt file aside", logx.String("path", path), logx.Err(err))
		return
	}
	s.log.Warn("corrupt file moved aside", logx.String("path", path), logx.String("moved_to", dst))
}

// encodeAccounts writes the accounts as a JSON object keyed by id, keeping
// slice order (encoding/json would sort map keys).
func encodeAccounts(accounts []domain.Account) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, a := range accounts {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(a.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.MarshalIndent(accountRecord{Token: a.Token, Name: a.Name, NextBump: a.NextBump}, "    ", "    ")
		if err != nil {
			return nil, err
		}
		buf.WriteString("\n    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	if len(accounts) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodeAccounts reads an id-keyed object in document order.
func decodeAccounts(b []byte) ([]domain.Account, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	out := []domain.Account{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected account id, got %v", tok)
		}
		var rec accountRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		a := domain.Account{ID: id, Token: rec.Token, Name: rec.Name, NextBump: rec.NextBump}
		if i, dup := index[id]; dup {
			out[i] = a
			continue
		}
		index[id] = len(out)
		out = append(out, a)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after accounts object")
	}
	return out, nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
