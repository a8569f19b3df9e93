// Package syncer pushes the non-sensitive configuration to the selected
// remote provider. It serializes transfers behind a cooldown window,
// drains queued requests in arrival order, and retries failed transfers
// on a fixed interval until one succeeds.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"incomed/internal/core"
	"incomed/internal/events"
	"incomed/internal/log"
	"incomed/internal/metrics"
	"incomed/internal/provider"
	"incomed/internal/settings"
	"incomed/internal/storage"
)

const (
	// Cooldown is the minimum spacing between two transfers.
	Cooldown = 5 * time.Second

	// RetryInterval is how long after a failed transfer the next
	// automatic attempt fires.
	RetryInterval = 60 * time.Second

	// initialDelay postpones the first sync after startup so it does not
	// race service wiring.
	initialDelay = time.Second
)

// Secret store key names, one set per provider. These names are part of
// the stored data and must not change.
const (
	secretWebDAVPassword = "webdav.password"
	secretS3AccessKey    = "s3.accessKey"
	secretS3SecretKey    = "s3.secretKey"
	secretOSSAccessKey   = "aliyun.accessKey"
	secretOSSSecretKey   = "aliyun.secretKey"
)

var ErrSyncInProgress = errors.New("a sync is already in progress")

// Result is the outcome of one sync request. Skipped means another
// transfer was already running and this request deferred to it.
type Result struct {
	Success bool
	Skipped bool
}

// SyncConfig is the caller-supplied provider configuration saved through
// SaveSyncConfig. Sensitive fields go to the secret store, the rest to
// settings.
type SyncConfig struct {
	Endpoint  string `json:"endpoint"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	AutoSync  bool   `json:"autoSync"`
}

type task struct {
	done chan Result
}

// Coordinator owns the sync state machine. All transfers funnel through
// syncData, guarded by the inProgress flag; queued requests are consumed
// by a single drain goroutine in FIFO order.
type Coordinator struct {
	repo    *storage.Repository
	store   *settings.Store
	events  events.Publisher
	metrics *metrics.Metrics
	log     *log.Logger
	now     func() time.Time

	cooldown      time.Duration
	retryInterval time.Duration
	startupDelay  time.Duration

	// newAdapter builds the provider adapter; swapped out in tests.
	newAdapter func(provider.Credentials) (provider.Adapter, error)

	mu           sync.Mutex
	lastSync     time.Time
	inProgress   bool
	queue        []task
	draining     bool
	retryTimer   *time.Timer
	initialTimer *time.Timer
	stopped      bool
	unsub        func()
}

func New(repo *storage.Repository, store *settings.Store, pub events.Publisher, m *metrics.Metrics, logger *log.Logger) *Coordinator {
	return &Coordinator{
		repo:          repo,
		store:         store,
		events:        pub,
		metrics:       m,
		log:           logger.WithComponent(log.ComponentSyncer),
		now:           time.Now,
		cooldown:      Cooldown,
		retryInterval: RetryInterval,
		startupDelay:  initialDelay,
		newAdapter:    provider.New,
	}
}

// Start subscribes to settings changes (each queues a sync) and, when
// auto-sync is on, schedules one delayed initial sync.
func (c *Coordinator) Start(ctx context.Context) {
	c.unsub = c.store.Subscribe(func(settings.Settings) {
		c.QueueSync(context.Background())
	})

	if c.store.Snapshot().AutoSync {
		c.mu.Lock()
		c.initialTimer = time.AfterFunc(c.startupDelay, func() {
			c.QueueSync(context.Background())
		})
		c.mu.Unlock()
	}
	c.log.Info("sync coordinator started")
}

// Stop cancels timers and the settings subscription. Queued requests
// resolve as skipped; nothing new is scheduled afterwards.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.initialTimer != nil {
		c.initialTimer.Stop()
		c.initialTimer = nil
	}
	pending := c.queue
	c.queue = nil
	c.metrics.SyncQueueDepth.Set(0)
	c.mu.Unlock()

	for _, t := range pending {
		t.done <- Result{Skipped: true}
	}
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.log.Info("sync coordinator stopped")
}

// QueueSync admits one sync request. Inside the cooldown window the
// request joins the FIFO queue and resolves when the drain loop reaches
// it; otherwise the transfer is dispatched on its own goroutine, so the
// caller (a settings-change handler, typically) never waits on the
// provider. The returned channel always receives exactly one Result.
func (c *Coordinator) QueueSync(ctx context.Context) <-chan Result {
	done := make(chan Result, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		done <- Result{Skipped: true}
		return done
	}
	now := c.now()
	if !c.lastSync.IsZero() && now.Sub(c.lastSync) < c.cooldown {
		c.queue = append(c.queue, task{done: done})
		c.metrics.SyncQueueDepth.Set(float64(len(c.queue)))
		if !c.draining {
			c.draining = true
			go c.drain()
		}
		c.mu.Unlock()
		return done
	}
	c.lastSync = now
	c.mu.Unlock()

	go func() { done <- c.syncData(ctx, false) }()
	return done
}

// drain consumes queued requests one at a time, waiting out whatever
// remains of the cooldown before each. A failed task never aborts the
// loop.
func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		if c.stopped || len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		if wait := c.cooldown - c.now().Sub(c.lastSync); wait > 0 {
			c.mu.Unlock()
			time.Sleep(wait)
			continue
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.metrics.SyncQueueDepth.Set(float64(len(c.queue)))
		c.lastSync = c.now()
		c.mu.Unlock()

		next.done <- c.syncData(context.Background(), false)
	}
}

// syncData performs one transfer. Skips without error when a transfer is
// already running; succeeds trivially for the local provider, and on the
// automatic path also when auto-sync is off. A manual request transfers
// regardless of the auto-sync setting. Provider errors never propagate:
// they count as failure and schedule a retry.
func (c *Coordinator) syncData(ctx context.Context, manual bool) Result {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		c.metrics.SyncAttempts.WithLabelValues(metrics.ResultSkipped).Inc()
		return Result{Skipped: true}
	}
	c.inProgress = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	cfg := c.store.Snapshot()
	if cfg.SyncProvider == settings.ProviderLocal || (!manual && !cfg.AutoSync) {
		c.metrics.SyncAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
		return Result{Success: true}
	}

	err := c.transfer(ctx, cfg)
	if err != nil {
		c.log.Warn("sync failed", log.FieldProvider, cfg.SyncProvider, log.FieldError, err)
		c.metrics.SyncAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		c.events.Publish(ctx, events.SyncCompleted(cfg.SyncProvider, false))
		// Configuration problems are not retried: waiting will not grow a
		// password. The next saveSyncConfig queues a fresh attempt anyway.
		if !errors.Is(err, provider.ErrIncompleteCredentials) && !errors.Is(err, provider.ErrUnknownProvider) {
			c.scheduleRetry()
		}
		return Result{}
	}

	c.cancelRetry()
	c.log.Info("sync completed", log.FieldProvider, cfg.SyncProvider)
	c.metrics.SyncAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
	c.events.Publish(ctx, events.SyncCompleted(cfg.SyncProvider, true))
	return Result{Success: true}
}

func (c *Coordinator) transfer(ctx context.Context, cfg settings.Settings) error {
	creds, err := c.resolveCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	adapter, err := c.newAdapter(creds)
	if err != nil {
		return err
	}
	payload, err := buildPayload(cfg, c.now())
	if err != nil {
		return err
	}
	return adapter.Send(ctx, payload)
}

// ManualSync runs one transfer on behalf of the user and emits exactly
// one notification for the outcome. The transfer happens even when
// auto-sync is off; only the local provider short-circuits. A transfer
// already in flight rejects immediately instead of queueing.
func (c *Coordinator) ManualSync(ctx context.Context) error {
	c.mu.Lock()
	busy := c.inProgress
	if !busy {
		c.lastSync = c.now()
	}
	c.mu.Unlock()
	if busy {
		c.events.Notify(ctx, events.LevelWarning, "sync already in progress")
		return ErrSyncInProgress
	}

	res := c.syncData(ctx, true)
	switch {
	case res.Skipped:
		c.events.Notify(ctx, events.LevelWarning, "sync already in progress")
		return ErrSyncInProgress
	case res.Success:
		c.events.Notify(ctx, events.LevelInfo, "sync completed")
		return nil
	default:
		c.events.Notify(ctx, events.LevelError, "sync failed, will retry automatically")
		return errors.New("sync failed")
	}
}

// TestConnection checks reachability with either a caller-supplied draft
// configuration or the currently saved one. Never mutates state.
func (c *Coordinator) TestConnection(ctx context.Context, draft *provider.Credentials) error {
	var creds provider.Credentials
	if draft != nil {
		creds = *draft
	} else {
		var err error
		creds, err = c.resolveCredentials(ctx, c.store.Snapshot())
		if err != nil {
			return err
		}
	}
	adapter, err := c.newAdapter(creds)
	if err != nil {
		return err
	}
	return adapter.Ping(ctx)
}

// SaveSyncConfig persists a provider configuration: sensitive fields to
// the secret store, everything else to settings. Secrets are written
// first so the settings-change sync that follows sees them.
func (c *Coordinator) SaveSyncConfig(ctx context.Context, providerName string, sc SyncConfig) error {
	switch providerName {
	case settings.ProviderLocal:
	case settings.ProviderWebDAV:
		if err := c.storeSecret(ctx, secretWebDAVPassword, sc.Password); err != nil {
			return err
		}
	case settings.ProviderS3:
		if err := c.storeSecret(ctx, secretS3AccessKey, sc.AccessKey); err != nil {
			return err
		}
		if err := c.storeSecret(ctx, secretS3SecretKey, sc.SecretKey); err != nil {
			return err
		}
	case settings.ProviderAliyunOSS:
		if err := c.storeSecret(ctx, secretOSSAccessKey, sc.AccessKey); err != nil {
			return err
		}
		if err := c.storeSecret(ctx, secretOSSSecretKey, sc.SecretKey); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", provider.ErrUnknownProvider, providerName)
	}

	return c.store.Update(ctx, settings.Patch{
		SyncProvider: &providerName,
		SyncEndpoint: &sc.Endpoint,
		SyncUsername: &sc.Username,
		SyncBucket:   &sc.Bucket,
		AutoSync:     &sc.AutoSync,
	})
}

func (c *Coordinator) storeSecret(ctx context.Context, name, value string) error {
	if value == "" {
		return nil
	}
	if err := c.repo.StoreSecret(ctx, name, value); err != nil {
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// resolveCredentials merges the non-sensitive connection fields from
// settings with the secrets for the selected provider.
func (c *Coordinator) resolveCredentials(ctx context.Context, cfg settings.Settings) (provider.Credentials, error) {
	creds := provider.Credentials{
		Provider: cfg.SyncProvider,
		Endpoint: cfg.SyncEndpoint,
		Username: cfg.SyncUsername,
		Bucket:   cfg.SyncBucket,
	}
	switch cfg.SyncProvider {
	case settings.ProviderWebDAV:
		pw, _, err := c.repo.GetSecret(ctx, secretWebDAVPassword)
		if err != nil {
			return creds, fmt.Errorf("load webdav password: %w", err)
		}
		creds.Password = pw
	case settings.ProviderS3:
		ak, _, err := c.repo.GetSecret(ctx, secretS3AccessKey)
		if err != nil {
			return creds, fmt.Errorf("load s3 access key: %w", err)
		}
		sk, _, err := c.repo.GetSecret(ctx, secretS3SecretKey)
		if err != nil {
			return creds, fmt.Errorf("load s3 secret key: %w", err)
		}
		creds.AccessKey, creds.SecretKey = ak, sk
	case settings.ProviderAliyunOSS:
		ak, _, err := c.repo.GetSecret(ctx, secretOSSAccessKey)
		if err != nil {
			return creds, fmt.Errorf("load oss access key: %w", err)
		}
		sk, _, err := c.repo.GetSecret(ctx, secretOSSSecretKey)
		if err != nil {
			return creds, fmt.Errorf("load oss secret key: %w", err)
		}
		creds.AccessKey, creds.SecretKey = ak, sk
	}
	return creds, nil
}

// scheduleRetry arms the single retry timer, if not already armed.
func (c *Coordinator) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.retryTimer != nil {
		return
	}
	c.log.Info("retry scheduled", log.FieldInterval, c.retryInterval.String())
	c.retryTimer = time.AfterFunc(c.retryInterval, func() {
		c.mu.Lock()
		c.retryTimer = nil
		stopped := c.stopped
		if !stopped {
			c.lastSync = c.now()
		}
		c.mu.Unlock()
		if stopped {
			return
		}
		c.metrics.SyncRetries.Inc()
		c.syncData(context.Background(), false)
	})
}

func (c *Coordinator) cancelRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// payloadBody is the fixed non-sensitive subset that leaves the machine.
// Session data and credentials are never part of it.
type payloadBody struct {
	MonthlyIncome       core.Money `json:"monthlyIncome"`
	WorkDays            []int      `json:"workDays"`
	AutoStartWork       bool       `json:"autoStartWork"`
	WorkStartTime       string     `json:"workStartTime"`
	WorkEndTime         string     `json:"workEndTime"`
	PrecisionLevel      int        `json:"precisionLevel"`
	OvertimeEnabled     bool       `json:"overtimeEnabled"`
	OvertimeRate        float64    `json:"overtimeRate"`
	DeductForEarlyLeave bool       `json:"deductForEarlyLeave"`
	LastUpdated         time.Time  `json:"lastUpdated"`
}

func buildPayload(cfg settings.Settings, at time.Time) ([]byte, error) {
	return json.Marshal(payloadBody{
		MonthlyIncome:       cfg.MonthlyIncome,
		WorkDays:            cfg.WorkDays,
		AutoStartWork:       cfg.AutoStartWork,
		WorkStartTime:       cfg.WorkStartTime,
		WorkEndTime:         cfg.WorkEndTime,
		PrecisionLevel:      cfg.PrecisionLevel,
		OvertimeEnabled:     cfg.OvertimeEnabled,
		OvertimeRate:        cfg.OvertimeRate,
		DeductForEarlyLeave: cfg.DeductForEarlyLeave,
		LastUpdated:         at,
	})
}
