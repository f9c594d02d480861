package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/metrics"
	"github.com/buildpass/buildpass-backend/pkg/errors"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
	"github.com/buildpass/buildpass-backend/pkg/logger"
	"github.com/buildpass/buildpass-backend/pkg/messaging"
)

// Recompute outcomes as reported to metrics
const (
	OutcomeChanged           = "changed"
	OutcomeUnchanged         = "unchanged"
	OutcomePropagationFailed = "propagation_failed"
	OutcomeFailed            = "failed"
)

// ModificationStore loads modifications and stores their snapshot
type ModificationStore interface {
	GetForAssessment(ctx context.Context, id string) (*domain.Modification, error)
	UpdateSnapshot(ctx context.Context, id string, s domain.Snapshot) error
}

// ListingStore reads and updates the listings built from a modification
type ListingStore interface {
	ListByModification(ctx context.Context, modificationID string) ([]domain.Listing, error)
	UpdateMirror(ctx context.Context, listingID string, mirror domain.ListingMirror) error
}

// SnapshotEvents announces changed snapshots
type SnapshotEvents interface {
	PublishSnapshotUpdated(ctx context.Context, data messaging.SnapshotUpdatedEvent)
}

// PropagationError reports listings whose mirror could not be updated. The
// modification snapshot was written before the fan-out started.
type PropagationError struct {
	ModificationID string
	ListingIDs     []string
	Err            error
}

func (e *PropagationError) Error() string {
	if len(e.ListingIDs) == 0 {
		return fmt.Sprintf("propagate snapshot of modification %s: %v", e.ModificationID, e.Err)
	}
	return fmt.Sprintf("propagate snapshot of modification %s to listings %s: %v",
		e.ModificationID, strings.Join(e.ListingIDs, ", "), e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }

// RecomputeResult describes one recompute run
type RecomputeResult struct {
	ModificationID string
	Snapshot       domain.Snapshot
	Previous       domain.Snapshot
	Changed        bool
	Violations     []domain.Violation
	Degraded       []string
	// Listings counts all listings of the modification, Updated those written
	Listings int
	Updated  int
}

// SnapshotWriter recomputes and persists the legality snapshot of a
// modification. No lock is taken: concurrent recomputes of the same
// modification are last-write-wins and converge on the next trigger.
type SnapshotWriter struct {
	engine        *engine.Engine
	modifications ModificationStore
	listings      ListingStore
	events        SnapshotEvents
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        *logger.Logger
}

// NewSnapshotWriter creates a snapshot writer. events and m may be nil.
func NewSnapshotWriter(
	eng *engine.Engine,
	modifications ModificationStore,
	listings ListingStore,
	events SnapshotEvents,
	m *metrics.Metrics,
	log *logger.Logger,
) *SnapshotWriter {
	if log == nil {
		log = logger.Nop()
	}
	return &SnapshotWriter{
		engine:        eng,
		modifications: modifications,
		listings:      listings,
		events:        events,
		metrics:       m,
		now:           time.Now,
		logger:        log.WithComponent("snapshot_writer"),
	}
}

// WithClock replaces the time source used for checkedAt
func (w *SnapshotWriter) WithClock(now func() time.Time) *SnapshotWriter {
	w.now = now
	return w
}

// Recompute re-runs the assessment for the modification and stores the
// result on it and on every listing built from it. Calling it again without
// data changes leaves the stored snapshot untouched.
//
// Only persistence fails the call. A failed listing update returns the result
// together with a *PropagationError after all listings were attempted.
func (w *SnapshotWriter) Recompute(ctx context.Context, modificationID string) (*RecomputeResult, error) {
	log := w.logger.WithModificationID(modificationID)

	mod, err := w.modifications.GetForAssessment(ctx, modificationID)
	if err != nil {
		w.metrics.IncRecompute(OutcomeFailed)
		return nil, fmt.Errorf("load modification %s: %w", modificationID, err)
	}

	a := w.engine.Assess(ctx, engine.InputFromModification(mod))
	w.metrics.IncDegraded(a.Degraded...)

	snapshot := BuildSnapshot(mod, &a, w.now().UTC())
	result := &RecomputeResult{
		ModificationID: modificationID,
		Previous:       mod.Snapshot,
		Violations:     a.Violations,
		Degraded:       a.Degraded,
	}

	if mod.Snapshot.CheckedAt != nil && snapshot.SameContent(mod.Snapshot) {
		// keep the stored checkedAt so repeated runs are byte-identical
		snapshot.CheckedAt = mod.Snapshot.CheckedAt
	} else {
		if err := w.modifications.UpdateSnapshot(ctx, modificationID, snapshot); err != nil {
			w.metrics.IncRecompute(OutcomeFailed)
			log.Error().Err(err).Msg("failed to write legality snapshot")
			return nil, fmt.Errorf("write snapshot of modification %s: %w", modificationID, err)
		}
		result.Changed = true
	}
	result.Snapshot = snapshot

	propagateErr := w.propagate(ctx, modificationID, snapshot, result)

	if result.Changed && w.events != nil {
		w.events.PublishSnapshotUpdated(ctx, messaging.SnapshotUpdatedEvent{
			ModificationID:       modificationID,
			Status:               string(snapshot.Status),
			PreviousStatus:       string(mod.Snapshot.Status),
			ApprovalType:         string(snapshot.ApprovalType),
			ReferenceFingerprint: snapshot.ReferenceFingerprint,
			ListingCount:         result.Listings,
			CheckedAt:            *snapshot.CheckedAt,
		})
	}

	switch {
	case propagateErr != nil:
		w.metrics.IncRecompute(OutcomePropagationFailed)
		log.Error().Err(propagateErr).Msg("listing propagation incomplete")
		return result, propagateErr
	case result.Changed:
		w.metrics.IncRecompute(OutcomeChanged)
	default:
		w.metrics.IncRecompute(OutcomeUnchanged)
	}

	log.Info().
		Str("status", string(snapshot.Status)).
		Bool("changed", result.Changed).
		Int("listings_updated", result.Updated).
		Msg("legality snapshot recomputed")
	return result, nil
}

// propagate copies the snapshot to every listing that is out of sync. It
// continues past failures and reports them together.
func (w *SnapshotWriter) propagate(ctx context.Context, modificationID string, snapshot domain.Snapshot, result *RecomputeResult) error {
	listings, err := w.listings.ListByModification(ctx, modificationID)
	if err != nil {
		return &PropagationError{ModificationID: modificationID, Err: err}
	}
	result.Listings = len(listings)

	mirror := domain.MirrorFromSnapshot(snapshot)
	var (
		failed []string
		errs   []error
	)
	for i := range listings {
		l := &listings[i]
		if l.InSync(snapshot) {
			continue
		}
		if err := w.listings.UpdateMirror(ctx, l.ID, mirror); err != nil {
			failed = append(failed, l.ID)
			errs = append(errs, fmt.Errorf("listing %s: %w", l.ID, err))
			continue
		}
		result.Updated++
	}

	if len(failed) == 0 {
		return nil
	}
	w.metrics.AddPropagationFailures(len(failed))
	return &PropagationError{ModificationID: modificationID, ListingIDs: failed, Err: errors.Join(errs...)}
}

// BuildSnapshot derives the stored snapshot from an assessment. Notes are
// always German since they are persisted and shown to inspectors.
func BuildSnapshot(mod *domain.Modification, a *engine.Assessment, checkedAt time.Time) domain.Snapshot {
	s := domain.Snapshot{
		Status:         a.Status,
		ApprovalType:   a.ApprovalType.OrNone(),
		ApprovalNumber: a.ApprovalNumber,
		Notes:          snapshotNotes(mod, a),
		CheckedAt:      &checkedAt,
	}
	if best := a.BestMatch; best != nil {
		s.SourceID = best.Entry.SourceID
		s.SourceURL = best.Entry.SourceURL
		s.ReferenceFingerprint = best.Fingerprint()
		if best.Entry.ApprovalNumber != "" {
			s.ApprovalNumber = best.Entry.ApprovalNumber
		}
	}
	return s
}

func snapshotNotes(mod *domain.Modification, a *engine.Assessment) string {
	loc := i18n.NewLocalizer(i18n.LocaleGerman)
	var notes []string

	if best := a.BestMatch; best != nil {
		number := ""
		if best.Entry.ApprovalNumber != "" {
			number = ", " + best.Entry.ApprovalNumber
		}
		notes = append(notes, loc.T("notes.reference", map[string]string{
			"label":          best.Label,
			"approvalType":   string(a.ApprovalType.OrNone()),
			"approvalNumber": number,
		}))
	} else {
		notes = append(notes, loc.T("notes.no_reference"))
	}

	if mod.TuvStatus != "" {
		notes = append(notes, loc.T("notes.declared", map[string]string{"tuvStatus": string(mod.TuvStatus)}))
	}
	if evidence := mod.EvidenceTypes(); len(evidence) > 0 {
		names := make([]string, len(evidence))
		for i, e := range evidence {
			names[i] = string(e)
		}
		notes = append(notes, loc.T("notes.evidence", map[string]string{"evidence": strings.Join(names, ", ")}))
	}
	if len(a.Violations) > 0 {
		notes = append(notes, loc.T("notes.violations", map[string]string{
			"violations": strings.Join(domain.RuleIDs(a.Violations), ", "),
		}))
	}
	return strings.Join(notes, " ")
}
