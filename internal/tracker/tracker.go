package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deploywatch/deploywatch/internal/detect"
	"github.com/deploywatch/deploywatch/internal/engine"
	"github.com/deploywatch/deploywatch/internal/models"
	"github.com/deploywatch/deploywatch/internal/utils"
)

// SourceControl is the source-control behaviour the tracker needs.
type SourceControl interface {
	Head(ctx context.Context) (models.Commit, error)
	DiffStat(ctx context.Context, hash string) (models.DiffStat, error)
}

// Monitoring supplies live metric snapshots for the tracked services.
type Monitoring interface {
	Snapshot(ctx context.Context, services []string) (models.MetricsSnapshot, error)
}

// Sink receives best-effort push events. Implementations must not block;
// there is no acknowledgment or retry.
type Sink interface {
	DeploymentStarted(dep models.Deployment)
	DeploymentUpdated(dep models.Deployment)
	AnomalyDetected(dep models.Deployment, anomaly models.Anomaly)
	IncidentTriggered(incident models.Incident)
}

// IncidentStore archives incidents. Optional; failures are logged and the
// tracker carries on.
type IncidentStore interface {
	StoreIncident(ctx context.Context, incident models.Incident) error
}

// Options configures a Tracker.
type Options struct {
	DetectionInterval time.Duration
	MonitorInterval   time.Duration
	CompletionAfter   time.Duration
	Services          []string
}

func (o *Options) withDefaults() {
	if o.DetectionInterval <= 0 {
		o.DetectionInterval = 30 * time.Second
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 15 * time.Second
	}
	if o.CompletionAfter <= 0 {
		o.CompletionAfter = 10 * time.Minute
	}
}

// Tracker watches for new deployments and drives each one through its
// lifecycle. Each active deployment owns one monitoring loop; iterations of a
// single loop never overlap, loops of different deployments run independently.
type Tracker struct {
	logger      *slog.Logger
	opts        Options
	scm         SourceControl
	monitoring  Monitoring
	detector    *detect.Detector
	correlator  *engine.Correlator
	scorer      *engine.RiskScorer
	recommender *engine.Recommender
	sink        Sink
	store       IncidentStore

	mu        sync.RWMutex
	active    map[string]*models.Deployment
	history   []models.Deployment
	incidents []models.Incident
	lastHead  string
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a Tracker with injected collaborators. sink and store may be
// nil.
func New(
	logger *slog.Logger,
	opts Options,
	scm SourceControl,
	monitoring Monitoring,
	detector *detect.Detector,
	correlator *engine.Correlator,
	scorer *engine.RiskScorer,
	recommender *engine.Recommender,
	sink Sink,
	store IncidentStore,
) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = detect.NewDetector()
	}
	if scorer == nil {
		scorer = engine.NewRiskScorer()
	}
	opts.withDefaults()
	return &Tracker{
		logger:      logger,
		opts:        opts,
		scm:         scm,
		monitoring:  monitoring,
		detector:    detector,
		correlator:  correlator,
		scorer:      scorer,
		recommender: recommender,
		sink:        sink,
		store:       store,
		active:      make(map[string]*models.Deployment),
	}
}

// Start begins head-commit detection. Returns an error when already running
// or when required collaborators are missing.
func (t *Tracker) Start(ctx context.Context) error {
	if t.scm == nil {
		return fmt.Errorf("source-control client not configured")
	}
	if t.monitoring == nil {
		return fmt.Errorf("monitoring client not configured")
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("tracker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.detectLoop(runCtx)
	t.logger.Info("deployment tracking started",
		slog.Duration("detection_interval", t.opts.DetectionInterval),
		slog.Duration("monitor_interval", t.opts.MonitorInterval))
	return nil
}

// Stop cancels every pending loop. An in-flight poll may finish but schedules
// no further cycle. Blocks until all loops have exited.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Info("deployment tracking stopped")
}

// Deployment returns a snapshot of one deployment, active or archived.
func (t *Tracker) Deployment(id string) (models.Deployment, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if dep, ok := t.active[id]; ok {
		return cloneDeployment(*dep), nil
	}
	for _, dep := range t.history {
		if dep.ID == id {
			return cloneDeployment(dep), nil
		}
	}
	return models.Deployment{}, fmt.Errorf("deployment %s: %w", id, utils.ErrNotFound)
}

// ActiveDeployments returns snapshots of all non-terminal deployments.
func (t *Tracker) ActiveDeployments() []models.Deployment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	deployments := make([]models.Deployment, 0, len(t.active))
	for _, dep := range t.active {
		deployments = append(deployments, cloneDeployment(*dep))
	}
	return deployments
}

// History returns archived (terminal) deployments, oldest first.
func (t *Tracker) History() []models.Deployment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	history := make([]models.Deployment, 0, len(t.history))
	for _, dep := range t.history {
		history = append(history, cloneDeployment(dep))
	}
	return history
}

// Incidents returns every incident raised so far, oldest first.
func (t *Tracker) Incidents() []models.Incident {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Incident(nil), t.incidents...)
}

func (t *Tracker) detectLoop(ctx context.Context) {
	defer t.wg.Done()

	// Immediate first check so a fresh head is picked up without waiting a
	// full interval.
	t.checkHead(ctx)

	ticker := time.NewTicker(t.opts.DetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkHead(ctx)
		}
	}
}

func (t *Tracker) checkHead(ctx context.Context) {
	head, err := t.scm.Head(ctx)
	if err != nil {
		t.logger.Warn("head detection failed", slog.Any("error", err))
		return
	}
	if head.Hash == "" {
		return
	}

	t.mu.Lock()
	if head.Hash == t.lastHead {
		t.mu.Unlock()
		return
	}
	t.lastHead = head.Hash
	t.mu.Unlock()

	t.startDeployment(ctx, head)
}

func (t *Tracker) startDeployment(ctx context.Context, commit models.Commit) {
	diff, err := t.scm.DiffStat(ctx, commit.Hash)
	risk := engine.NeutralAssessment()
	if err != nil {
		t.logger.Warn("diff retrieval failed for new deployment", slog.String("hash", commit.Hash), slog.Any("error", err))
	} else {
		risk = t.scorer.ScoreDeployment(commit, diff)
	}

	dep := &models.Deployment{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Commit:    commit,
		Diff:      diff,
		Services:  t.opts.Services,
		Status:    models.StatusInProgress,
		Risk:      risk,
	}

	t.mu.Lock()
	t.active[dep.ID] = dep
	t.mu.Unlock()

	t.logger.Info("new deployment detected",
		slog.String("deployment_id", dep.ID),
		slog.String("commit", commit.Hash),
		slog.Float64("risk", risk.Score))
	if t.sink != nil {
		t.sink.DeploymentStarted(cloneDeployment(*dep))
	}

	t.wg.Add(1)
	go t.monitorLoop(ctx, dep.ID)
}

// monitorLoop drives one deployment. Ticker-based, so iterations of this
// deployment never overlap; the loop exits once the deployment is terminal or
// the tracker stops.
func (t *Tracker) monitorLoop(ctx context.Context, id string) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := t.pollOnce(ctx, id); terminal {
				return
			}
		}
	}
}

// pollOnce runs one monitoring cycle for the deployment and reports whether
// it reached a terminal state. A failed fetch means no new data this cycle.
func (t *Tracker) pollOnce(ctx context.Context, id string) bool {
	t.mu.RLock()
	depPtr, ok := t.active[id]
	if !ok {
		t.mu.RUnlock()
		return true
	}
	snapshotInput := cloneDeployment(*depPtr)
	t.mu.RUnlock()

	snapshot, err := t.monitoring.Snapshot(ctx, snapshotInput.Services)
	if err != nil {
		t.logger.Warn("metrics fetch failed, retrying next cycle",
			slog.String("deployment_id", id), slog.Any("error", err))
		return false
	}

	var correlated []models.Alert
	if snapshotInput.Correlation != nil {
		correlated = snapshotInput.Correlation.Alerts
	}
	anomalies := t.detector.Detect(snapshot, correlated)

	var correlation *models.Correlation
	if t.correlator != nil {
		corr, corrErr := t.correlator.Correlate(ctx, snapshotInput)
		if corrErr != nil {
			// Keep the stale correlation for this cycle.
			t.logger.Warn("correlation failed, keeping previous value",
				slog.String("deployment_id", id), slog.Any("error", corrErr))
		} else {
			correlation = &corr
		}
	}

	updated, incident := t.applyCycle(id, snapshot, anomalies, correlation)
	if updated == nil {
		return true
	}

	if t.sink != nil {
		for _, anomaly := range anomalies {
			t.sink.AnomalyDetected(*updated, anomaly)
		}
		t.sink.DeploymentUpdated(*updated)
	}

	if incident != nil {
		t.raiseIncident(ctx, *incident)
	}

	return updated.Status.Terminal()
}

// applyCycle mutates the deployment under lock: record the snapshot, append
// anomalies, replace the correlation, and recompute status. Returns a
// snapshot copy and, when the deployment failed this cycle, the incident.
func (t *Tracker) applyCycle(id string, snapshot models.MetricsSnapshot, anomalies []models.Anomaly, correlation *models.Correlation) (*models.Deployment, *models.Incident) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dep, ok := t.active[id]
	if !ok {
		return nil, nil
	}

	dep.Metrics = snapshot
	dep.Anomalies = append(dep.Anomalies, anomalies...)
	if correlation != nil {
		dep.Correlation = correlation
	}

	next := nextStatus(dep, anomalies, t.opts.CompletionAfter)
	changed := next != dep.Status
	dep.Status = next

	var incident *models.Incident
	if dep.Status == models.StatusFailed {
		inc := t.buildIncident(*dep)
		incident = &inc
	}
	if changed {
		t.logger.Info("deployment status changed",
			slog.String("deployment_id", dep.ID), slog.String("status", string(dep.Status)))
	}

	snapshotCopy := cloneDeployment(*dep)
	if dep.Status.Terminal() {
		t.history = append(t.history, snapshotCopy)
		delete(t.active, id)
	}
	return &snapshotCopy, incident
}

// nextStatus applies the state machine. Terminal states never transition.
func nextStatus(dep *models.Deployment, cycleAnomalies []models.Anomaly, completionAfter time.Duration) models.DeploymentStatus {
	if dep.Status.Terminal() {
		return dep.Status
	}

	highs := 0
	for _, anomaly := range cycleAnomalies {
		switch anomaly.Severity {
		case models.SeverityCritical:
			return models.StatusFailed
		case models.SeverityHigh:
			highs++
		}
	}
	if highs >= 2 {
		return models.StatusDegraded
	}

	if dep.Status == models.StatusInProgress &&
		len(dep.Anomalies) == 0 &&
		time.Since(dep.CreatedAt) > completionAfter {
		return models.StatusCompleted
	}
	return dep.Status
}

func (t *Tracker) buildIncident(dep models.Deployment) models.Incident {
	incident := models.Incident{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		DeploymentID: dep.ID,
		Severity:     models.SeverityCritical,
		RiskFactors:  append([]string(nil), dep.Risk.Factors...),
		Anomalies:    append([]models.Anomaly(nil), dep.Anomalies...),
	}
	if t.recommender != nil {
		incident.Recommendations = t.recommender.ForDeployment(dep, dep.Anomalies)
	}
	t.incidents = append(t.incidents, incident)
	return incident
}

func (t *Tracker) raiseIncident(ctx context.Context, incident models.Incident) {
	t.logger.Error("incident triggered",
		slog.String("incident_id", incident.ID),
		slog.String("deployment_id", incident.DeploymentID),
		slog.Int("anomalies", len(incident.Anomalies)))

	if t.store != nil {
		if err := t.store.StoreIncident(ctx, incident); err != nil {
			t.logger.Warn("incident archive failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
	}
	if t.sink != nil {
		t.sink.IncidentTriggered(incident)
	}
}

func cloneDeployment(dep models.Deployment) models.Deployment {
	clone := dep
	clone.Services = append([]string(nil), dep.Services...)
	clone.Anomalies = append([]models.Anomaly(nil), dep.Anomalies...)
	clone.Risk.Factors = append([]string(nil), dep.Risk.Factors...)
	clone.Diff.Files = append([]string(nil), dep.Diff.Files...)
	if dep.Correlation != nil {
		corr := *dep.Correlation
		corr.Alerts = make([]models.Alert, len(dep.Correlation.Alerts))
		copy(corr.Alerts, dep.Correlation.Alerts)
		clone.Correlation = &corr
	}
	return clone
}
