package accesscontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
)

// AuditCollection is the persistence.Port collection name for audit events.
const AuditCollection = "audit_events"

// AuditEvent is the persisted audit record (spec §3). Append-only: never
// mutated after Put.
type AuditEvent struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_user_id"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject"`
	Timestamp time.Time      `json:"timestamp"`
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
}

const (
	auditBufferSize    = 256
	auditFlushInterval = 2 * time.Second
	auditFlushBatch    = 32
)

// AuditWriter is an async, buffered audit log writer flushing batches to
// the Persistence Port, grounded on the corpus's audit.Writer channel +
// ticker pattern.
type AuditWriter struct {
	db      persistence.Port
	ids     clock.IDGenerator
	clock   clock.Clock
	logger  *slog.Logger
	entries chan AuditEvent
	wg      sync.WaitGroup
}

// NewAuditWriter creates an AuditWriter. Call Start to begin processing.
func NewAuditWriter(db persistence.Port, ids clock.IDGenerator, c clock.Clock, logger *slog.Logger) *AuditWriter {
	return &AuditWriter{
		db:      db,
		ids:     ids,
		clock:   c,
		logger:  logger,
		entries: make(chan AuditEvent, auditBufferSize),
	}
}

// Start begins the background flush loop. It returns when ctx is cancelled
// and all pending entries are flushed.
func (w *AuditWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the flush loop to drain.
func (w *AuditWriter) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Record enqueues an audit entry without blocking the caller; the entry is
// dropped with a logged warning if the buffer is full (spec §5: "metrics
// sinks ... never block the hot path", applied here to audit writes too).
func (w *AuditWriter) Record(tenantID, actorID, action, subject, outcome string, detail map[string]any) {
	entry := AuditEvent{
		ID:        w.ids.NewID(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    action,
		Subject:   subject,
		Timestamp: w.clock.Now(),
		Outcome:   outcome,
		Detail:    detail,
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "action", action, "subject", subject)
	}
}

func (w *AuditWriter) run(ctx context.Context) {
	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]AuditEvent, 0, auditFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= auditFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// ListByTenant returns tenantID's audit events, most recent first. It reads
// directly from the Persistence Port, bypassing the write buffer, so an
// event is only visible here once it has actually flushed.
func (w *AuditWriter) ListByTenant(ctx context.Context, tenantID string) ([]AuditEvent, error) {
	sort := persistence.Sort{Field: "timestamp", Dir: persistence.Descending}
	recs, err := w.db.Query(ctx, AuditCollection, persistence.Eq("tenant_id", tenantID), &sort, 0)
	if err != nil {
		return nil, err
	}
	events := make([]AuditEvent, 0, len(recs))
	for _, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		var e AuditEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (w *AuditWriter) flush(entries []AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			w.logger.Error("marshaling audit entry", "error", err, "action", e.Action)
			continue
		}
		var rec persistence.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			w.logger.Error("converting audit entry to record", "error", err, "action", e.Action)
			continue
		}
		if err := w.db.Put(ctx, AuditCollection, e.ID, rec); err != nil {
			w.logger.Error("writing audit entry", "error", err, "action", e.Action)
		}
	}
}
