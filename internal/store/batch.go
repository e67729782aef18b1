package store

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/model"
)

// Collection names a persisted document set.
type Collection string

const (
	CollectionVisits    Collection = "visits"
	CollectionSessions  Collection = "sessions"
	CollectionTasks     Collection = "tasks"
	CollectionCompanies Collection = "companies"
)

// Op is the kind of write staged for a document.
type Op string

const (
	// OpCreate inserts a new document.
	OpCreate Op = "create"
	// OpEnsure inserts a document only if its id is not already present.
	OpEnsure Op = "ensure"
	// OpUpsert inserts or fully replaces a document.
	OpUpsert Op = "upsert"
	// OpUpdate changes fields of an existing document.
	OpUpdate Op = "update"
)

// Write is one staged (collection, id, op, payload) tuple.
type Write struct {
	Collection Collection
	ID         string
	Op         Op
	Payload    any
}

// Batch is a staging list of writes committed together by Store.Commit.
// It is safe for concurrent use while a cycle fans out across items.
type Batch struct {
	mu     sync.Mutex
	writes []Write
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Add stages a raw write.
func (b *Batch) Add(w Write) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, w)
}

// Merge appends every write staged in other.
func (b *Batch) Merge(other *Batch) {
	if other == nil || other == b {
		return
	}
	ws := other.Writes()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, ws...)
}

// Writes returns a copy of the staged writes in staging order.
func (b *Batch) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// Len returns the number of staged writes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

// CreateVisit stages a new visit.
func (b *Batch) CreateVisit(v *model.Visit) {
	b.Add(Write{Collection: CollectionVisits, ID: v.ID, Op: OpCreate, Payload: v})
}

// EnsureSession stages a session insert that is skipped if it already exists.
func (b *Batch) EnsureSession(s *model.Session) {
	b.Add(Write{Collection: CollectionSessions, ID: s.ID, Op: OpEnsure, Payload: s})
}

// CreateTask stages a new enrichment task.
func (b *Batch) CreateTask(t *model.EnrichmentTask) {
	b.Add(Write{Collection: CollectionTasks, ID: t.ID, Op: OpCreate, Payload: t})
}

// UpdateTask stages a task's terminal status change.
func (b *Batch) UpdateTask(id string, u model.TaskUpdate) {
	b.Add(Write{Collection: CollectionTasks, ID: id, Op: OpUpdate, Payload: u})
}

// UpsertCompany stages a full overwrite of the company record.
func (b *Batch) UpsertCompany(c *company.CompanyRecord) {
	b.Add(Write{Collection: CollectionCompanies, ID: c.ID, Op: OpUpsert, Payload: c})
}

// IdentifyVisit stages resolved company fields onto a visit.
func (b *Batch) IdentifyVisit(id string, u model.IdentityUpdate) {
	b.Add(Write{Collection: CollectionVisits, ID: id, Op: OpUpdate, Payload: u})
}

// IdentifySession stages resolved company fields onto a session.
func (b *Batch) IdentifySession(id string, u model.IdentityUpdate) {
	b.Add(Write{Collection: CollectionSessions, ID: id, Op: OpUpdate, Payload: u})
}

// LinkVisit stages attaching an enriched company to a visit.
func (b *Batch) LinkVisit(id string, l model.CompanyLink) {
	b.Add(Write{Collection: CollectionVisits, ID: id, Op: OpUpdate, Payload: l})
}

// LinkSession stages attaching an enriched company to a session.
func (b *Batch) LinkSession(id string, l model.CompanyLink) {
	b.Add(Write{Collection: CollectionSessions, ID: id, Op: OpUpdate, Payload: l})
}

// writeKind identifies the statement that applies a write.
type writeKind int

const (
	kindCreateVisit writeKind = iota
	kindEnsureSession
	kindCreateTask
	kindUpdateTask
	kindUpsertCompany
	kindIdentifyVisit
	kindIdentifySession
	kindLinkVisit
	kindLinkSession
)

// classify validates a write and maps it to the statement that applies it.
func classify(w Write) (writeKind, error) {
	if w.ID == "" {
		return 0, eris.Errorf("store: %s %s write without id", w.Op, w.Collection)
	}

	switch p := w.Payload.(type) {
	case *model.Visit:
		if w.Collection == CollectionVisits && w.Op == OpCreate && p != nil {
			return kindCreateVisit, nil
		}
	case *model.Session:
		if w.Collection == CollectionSessions && w.Op == OpEnsure && p != nil {
			return kindEnsureSession, nil
		}
	case *model.EnrichmentTask:
		if w.Collection == CollectionTasks && w.Op == OpCreate && p != nil {
			return kindCreateTask, nil
		}
	case model.TaskUpdate:
		if w.Collection == CollectionTasks && w.Op == OpUpdate {
			return kindUpdateTask, nil
		}
	case *company.CompanyRecord:
		if w.Collection == CollectionCompanies && w.Op == OpUpsert && p != nil {
			return kindUpsertCompany, nil
		}
	case model.IdentityUpdate:
		if w.Op == OpUpdate {
			switch w.Collection {
			case CollectionVisits:
				return kindIdentifyVisit, nil
			case CollectionSessions:
				return kindIdentifySession, nil
			}
		}
	case model.CompanyLink:
		if w.Op == OpUpdate {
			switch w.Collection {
			case CollectionVisits:
				return kindLinkVisit, nil
			case CollectionSessions:
				return kindLinkSession, nil
			}
		}
	}

	return 0, eris.Errorf("store: unsupported %s %s write for %s (payload %T)", w.Op, w.Collection, w.ID, w.Payload)
}
