package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autobump/internal/domain"
	logx "autobump/pkg/logx"
)

func sampleAccounts() []domain.Account {
	return []domain.Account{
		{ID: "900", Token: "tok-z", Name: "zed", NextBump: -1},
		{ID: "100", Token: "tok-a", Name: "amy", NextBump: 1700000000},
		{ID: "500", Token: "tok-m", Name: "max", NextBump: 0},
	}
}

func sampleChannels() []domain.Channel {
	return []domain.Channel{
		{GuildID: "42", GuildName: "Guild B", ChannelID: "4242", ChannelName: "bump", NextBump: -1},
		{GuildID: "7", GuildName: "Guild A", ChannelID: "77", ChannelName: domain.NoChannelName, NextBump: 1700000500},
	}
}

func roundTrip(t *testing.T, st DataStore) {
	t.Helper()
	ctx := context.Background()

	if err := st.SaveAccounts(ctx, sampleAccounts()); err != nil {
		t.Fatalf("SaveAccounts: %v", err)
	}
	if err := st.SaveChannels(ctx, sampleChannels()); err != nil {
		t.Fatalf("SaveChannels: %v", err)
	}

	accs, err := st.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	want := sampleAccounts()
	if len(accs) != len(want) {
		t.Fatalf("accounts len=%d want %d", len(accs), len(want))
	}
	for i := range want {
		if accs[i] != want[i] {
			t.Fatalf("account[%d]=%+v want %+v", i, accs[i], want[i])
		}
	}

	chs, err := st.LoadChannels(ctx)
	if err != nil {
		t.Fatalf("LoadChannels: %v", err)
	}
	wantCh := sampleChannels()
	if len(chs) != len(wantCh) {
		t.Fatalf("channels len=%d want %d", len(chs), len(wantCh))
	}
	for i := range wantCh {
		if chs[i] != wantCh[i] {
			t.Fatalf("channel[%d]=%+v want %+v", i, chs[i], wantCh[i])
		}
	}
}

func TestFileStoreRoundTripKeepsOrder(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	roundTrip(t, st)
}

func TestSQLiteStoreRoundTripKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autobump.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	roundTrip(t, st)

	// A second save fully replaces the first.
	ctx := context.Background()
	if err := st.SaveChannels(ctx, sampleChannels()[:1]); err != nil {
		t.Fatalf("SaveChannels: %v", err)
	}
	chs, err := st.LoadChannels(ctx)
	if err != nil {
		t.Fatalf("LoadChannels: %v", err)
	}
	if len(chs) != 1 || chs[0].GuildID != "42" {
		t.Fatalf("unexpected channels after replace: %+v", chs)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	roundTrip(t, NewMemory())
}

func TestFileStoreMissingFilesLoadEmpty(t *testing.T) {
	st, err := Open(Config{Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	accs, err := st.LoadAccounts(context.Background())
	if err != nil || len(accs) != 0 {
		t.Fatalf("expected empty accounts, got %v err=%v", accs, err)
	}
	chs, err := st.LoadChannels(context.Background())
	if err != nil || len(chs) != 0 {
		t.Fatalf("expected empty channels, got %v err=%v", chs, err)
	}
}

func TestFileStoreCorruptLoadsEmptyAndQuarantines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, accountsFile), []byte(`{"1": {"Token": `), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, channelsFile), []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	accs, err := st.LoadAccounts(context.Background())
	if !errors.Is(err, ErrPersistenceCorrupt) {
		t.Fatalf("expected ErrPersistenceCorrupt, got %v", err)
	}
	if accs == nil || len(accs) != 0 {
		t.Fatalf("expected empty non-nil accounts, got %#v", accs)
	}
	chs, err := st.LoadChannels(context.Background())
	if !errors.Is(err, ErrPersistenceCorrupt) || len(chs) != 0 {
		t.Fatalf("expected corrupt empty channels, got %v err=%v", chs, err)
	}

	if _, err := os.Stat(filepath.Join(dir, accountsFile+".corrupt")); err != nil {
		t.Fatalf("corrupt accounts not moved aside: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, accountsFile)); !os.IsNotExist(err) {
		t.Fatalf("corrupt accounts file still in place: %v", err)
	}
}

func TestFileStoreReadsLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	accounts := `{
    "222": {"Token": "b", "Name": "second", "NextBumpTimestamp": -1},
    "111": {"Token": "a", "Name": "first", "NextBumpTimestamp": 1690000000}
}`
	channels := `[{"GuildId": 5, "GuildName": "G", "ChannelId": "6", "ChannelName": "c", "NextBumpTimestamp": -1}]`
	_ = os.WriteFile(filepath.Join(dir, accountsFile), []byte(accounts), 0o600)
	_ = os.WriteFile(filepath.Join(dir, channelsFile), []byte(channels), 0o600)

	st, err := Open(Config{Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	accs, err := st.LoadAccounts(context.Background())
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accs) != 2 || accs[0].ID != "222" || accs[1].ID != "111" {
		t.Fatalf("document order not kept: %+v", accs)
	}
	chs, err := st.LoadChannels(context.Background())
	if err != nil {
		t.Fatalf("LoadChannels: %v", err)
	}
	if len(chs) != 1 || chs[0].GuildID != "5" || chs[0].ChannelID != "6" {
		t.Fatalf("unexpected channels: %+v", chs)
	}
}

func TestFileStoreWritesNumericIDs(t *testing.T) {
	dir := t.TempDir()
	st, _ := Open(Config{Path: dir}, logx.Nop())
	if err := st.SaveChannels(context.Background(), sampleChannels()); err != nil {
		t.Fatalf("SaveChannels: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, channelsFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"GuildId": 42`) {
		t.Fatalf("expected numeric guild id, got:\n%s", b)
	}
}

func TestClosedFileStore(t *testing.T) {
	st, _ := Open(Config{Path: t.TempDir()}, logx.Nop())
	_ = st.Close()
	if _, err := st.LoadAccounts(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
