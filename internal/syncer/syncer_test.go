package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"incomed/internal/events"
	"incomed/internal/log"
	"incomed/internal/metrics"
	"incomed/internal/provider"
	"incomed/internal/settings"
	"incomed/internal/storage"
)

type fakeAdapter struct {
	mu        sync.Mutex
	fail      bool
	block     chan struct{}
	sends     []time.Time
	payloads  [][]byte
	successes int
	pings     int
}

func (f *fakeAdapter) successCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.successes
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(ctx context.Context, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, time.Now())
	f.payloads = append(f.payloads, payload)
	if f.fail {
		return errors.New("remote unavailable")
	}
	f.successes++
	return nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.fail {
		return errors.New("remote unavailable")
	}
	return nil
}

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAdapter) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

type fakePublisher struct {
	mu      sync.Mutex
	notices []string
}

func (f *fakePublisher) Publish(context.Context, events.Event) {}

func (f *fakePublisher) Notify(_ context.Context, level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, level+": "+message)
}

func (f *fakePublisher) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeAdapter, *fakePublisher) {
	t.Helper()
	logger := log.New(log.Config{Level: slog.LevelError})

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "incomed.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := settings.NewStore(context.Background(), repo, logger)
	if err != nil {
		t.Fatal(err)
	}

	adapter := &fakeAdapter{}
	pub := &fakePublisher{}
	c := New(repo, store, pub, metrics.New(prometheus.NewRegistry()), logger)
	c.cooldown = 30 * time.Millisecond
	c.retryInterval = 30 * time.Millisecond
	c.startupDelay = 5 * time.Millisecond
	c.newAdapter = func(provider.Credentials) (provider.Adapter, error) {
		return adapter, nil
	}

	// Remote sync on, pointing at the fake adapter.
	enabled := true
	prov := settings.ProviderWebDAV
	endpoint := "https://dav.example.com"
	user := "alice"
	if err := store.Update(context.Background(), settings.Patch{
		AutoSync:     &enabled,
		SyncProvider: &prov,
		SyncEndpoint: &endpoint,
		SyncUsername: &user,
	}); err != nil {
		t.Fatal(err)
	}
	return c, adapter, pub
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("sync request never resolved")
		return Result{}
	}
}

func TestQueueSyncCooldown(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	ctx := context.Background()

	// Burst of requests: the first runs immediately, the rest queue and
	// drain one per cooldown window, in order. None are dropped.
	first := await(t, c.QueueSync(ctx))
	if !first.Success {
		t.Fatalf("first sync = %+v", first)
	}

	var chans []<-chan Result
	for i := 0; i < 3; i++ {
		chans = append(chans, c.QueueSync(ctx))
	}
	for i, ch := range chans {
		if r := await(t, ch); !r.Success {
			t.Fatalf("queued sync %d = %+v", i, r)
		}
	}

	adapter.mu.Lock()
	sends := append([]time.Time(nil), adapter.sends...)
	adapter.mu.Unlock()
	if len(sends) != 4 {
		t.Fatalf("sends = %d, want 4", len(sends))
	}
	for i := 1; i < len(sends); i++ {
		if gap := sends[i].Sub(sends[i-1]); gap < 25*time.Millisecond {
			t.Fatalf("transfers %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestSyncDataSkipsWhileInProgress(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	adapter.block = make(chan struct{})

	started := make(chan Result, 1)
	go func() { started <- c.syncData(context.Background(), false) }()

	// Wait for the first transfer to be in flight.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		busy := c.inProgress
		c.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first sync never started")
		}
		time.Sleep(time.Millisecond)
	}

	if r := c.syncData(context.Background(), false); !r.Skipped {
		t.Fatalf("overlapping sync = %+v, want skipped", r)
	}

	close(adapter.block)
	if r := <-started; !r.Success {
		t.Fatalf("blocked sync = %+v", r)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	adapter.setFail(true)

	if r := await(t, c.QueueSync(context.Background())); r.Success {
		t.Fatal("expected first sync to fail")
	}

	// Allow the next retry to succeed.
	adapter.setFail(false)

	deadline := time.Now().Add(2 * time.Second)
	for adapter.successCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("retry never succeeded, sends = %d", adapter.sendCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if adapter.sendCount() < 2 {
		t.Fatalf("success without a retry attempt, sends = %d", adapter.sendCount())
	}

	// After a success the retry timer is cancelled: no further sends.
	settled := adapter.sendCount()
	time.Sleep(3 * c.retryInterval)
	if got := adapter.sendCount(); got != settled {
		t.Fatalf("retries continued after success: %d then %d", settled, got)
	}
	c.mu.Lock()
	armed := c.retryTimer != nil
	c.mu.Unlock()
	if armed {
		t.Fatal("retry timer still armed after success")
	}
}

func TestManualSyncNotifiesOnce(t *testing.T) {
	c, _, pub := newTestCoordinator(t)
	if err := c.ManualSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pub.noticeCount() != 1 {
		t.Fatalf("notices = %d, want 1", pub.noticeCount())
	}
}

func TestManualSyncRejectsWhileBusy(t *testing.T) {
	c, adapter, pub := newTestCoordinator(t)
	adapter.block = make(chan struct{})

	go c.syncData(context.Background(), false)
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		busy := c.inProgress
		c.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background sync never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.ManualSync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if pub.noticeCount() != 1 {
		t.Fatalf("notices = %d, want 1", pub.noticeCount())
	}
	close(adapter.block)
}

func TestSyncDisabledSucceedsTrivially(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	disabled := false
	if err := c.store.Update(context.Background(), settings.Patch{AutoSync: &disabled}); err != nil {
		t.Fatal(err)
	}
	if r := c.syncData(context.Background(), false); !r.Success {
		t.Fatalf("disabled sync = %+v", r)
	}
	if adapter.sendCount() != 0 {
		t.Fatal("disabled sync still dispatched to the provider")
	}
}

func TestManualSyncTransfersWithAutoSyncOff(t *testing.T) {
	c, adapter, pub := newTestCoordinator(t)
	disabled := false
	if err := c.store.Update(context.Background(), settings.Patch{AutoSync: &disabled}); err != nil {
		t.Fatal(err)
	}

	// Auto-sync off gates the automatic path only: a user-requested sync
	// still pushes to the provider.
	if err := c.ManualSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if adapter.sendCount() != 1 {
		t.Fatalf("manual sync sends = %d, want 1", adapter.sendCount())
	}
	if pub.noticeCount() != 1 {
		t.Fatalf("notices = %d, want 1", pub.noticeCount())
	}
}

func TestQueueSyncDoesNotBlockCaller(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	adapter.block = make(chan struct{})

	// The immediate path dispatches on its own goroutine; the caller gets
	// the channel back while the transfer is still in flight.
	ch := c.QueueSync(context.Background())
	select {
	case r := <-ch:
		t.Fatalf("sync resolved before the transfer finished: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	close(adapter.block)
	if r := await(t, ch); !r.Success {
		t.Fatalf("unblocked sync = %+v", r)
	}
}

func TestIncompleteCredentialsDoNotArmRetry(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	// Real adapter construction: the webdav settings carry no stored
	// password, so building the adapter fails on credentials.
	c.newAdapter = provider.New

	if r := await(t, c.QueueSync(context.Background())); r.Success || r.Skipped {
		t.Fatalf("sync with missing credentials = %+v, want failure", r)
	}

	c.mu.Lock()
	armed := c.retryTimer != nil
	c.mu.Unlock()
	if armed {
		t.Fatal("retry timer armed for a configuration error")
	}
}

func TestPayloadExcludesSecretsAndSessions(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	if err := c.repo.StoreSecret(context.Background(), secretWebDAVPassword, "hunter2"); err != nil {
		t.Fatal(err)
	}
	if r := await(t, c.QueueSync(context.Background())); !r.Success {
		t.Fatalf("sync = %+v", r)
	}

	adapter.mu.Lock()
	payload := string(adapter.payloads[0])
	adapter.mu.Unlock()

	for _, banned := range []string{"hunter2", "password", "sessions", "syncEndpoint"} {
		if strings.Contains(payload, banned) {
			t.Fatalf("payload leaked %q: %s", banned, payload)
		}
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"monthlyIncome", "workDays", "lastUpdated"} {
		if _, ok := body[want]; !ok {
			t.Fatalf("payload missing %q: %s", want, payload)
		}
	}
}

func TestSaveSyncConfigSplitsSecrets(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	err := c.SaveSyncConfig(ctx, settings.ProviderS3, SyncConfig{
		Endpoint:  "https://s3.example.com",
		Bucket:    "income",
		AccessKey: "AKID",
		SecretKey: "shh",
		AutoSync:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := c.store.Snapshot()
	if cfg.SyncProvider != settings.ProviderS3 || cfg.SyncEndpoint != "https://s3.example.com" || cfg.SyncBucket != "income" {
		t.Fatalf("settings not updated: %+v", cfg)
	}
	if !cfg.AutoSync {
		t.Fatal("autoSync not enabled")
	}

	ak, ok, err := c.repo.GetSecret(ctx, secretS3AccessKey)
	if err != nil || !ok || ak != "AKID" {
		t.Fatalf("access key not stored: %q %v %v", ak, ok, err)
	}
	sk, ok, err := c.repo.GetSecret(ctx, secretS3SecretKey)
	if err != nil || !ok || sk != "shh" {
		t.Fatalf("secret key not stored: %q %v %v", sk, ok, err)
	}

	raw, found, err := c.repo.LoadSettings(ctx)
	if err != nil || !found {
		t.Fatalf("settings not persisted: %v", err)
	}
	if strings.Contains(string(raw), "shh") || strings.Contains(string(raw), "AKID") {
		t.Fatal("secrets leaked into persisted settings")
	}
}

func TestSaveSyncConfigUnknownProvider(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	err := c.SaveSyncConfig(context.Background(), "ftp", SyncConfig{})
	if !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestTestConnectionWithDraft(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	draft := &provider.Credentials{Provider: "webdav", Endpoint: "https://draft.example.com", Username: "u", Password: "p"}
	if err := c.TestConnection(context.Background(), draft); err != nil {
		t.Fatal(err)
	}
	if adapter.pings != 1 {
		t.Fatalf("pings = %d, want 1", adapter.pings)
	}
}

func TestStartSchedulesInitialSync(t *testing.T) {
	c, adapter, _ := newTestCoordinator(t)
	c.Start(context.Background())
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for adapter.sendCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial sync never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
