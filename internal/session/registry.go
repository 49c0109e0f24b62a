package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

var ErrInvalidRole = errors.New("invalid role")

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleTeacher:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// Participant is a live connection's identity. It is never persisted.
type Participant struct {
	ConnID    string    `json:"-"`
	StudentID string    `json:"studentId"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"-"`
}

// Registry tracks connected participants keyed by connection id. A student
// may hold several connections at once; each gets its own entry.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]Participant
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]Participant),
		now:    time.Now,
	}
}

// Join upserts the entry for p.ConnID. The last join for a connection wins,
// but the first join time is kept.
func (r *Registry) Join(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[p.ConnID]; ok {
		p.JoinedAt = prev.JoinedAt
	} else if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	r.byConn[p.ConnID] = p
}

func (r *Registry) Leave(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
	}
	return p, ok
}

func (r *Registry) Get(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[connID]
	return p, ok
}

// ListByRole returns a snapshot ordered by join time.
func (r *Registry) ListByRole(role Role) []Participant {
	r.mu.RLock()
	res := make([]Participant, 0, len(r.byConn))
	for _, p := range r.byConn {
		if p.Role == role {
			res = append(res, p)
		}
	}
	r.mu.RUnlock()

	sortByJoin(res)
	return res
}

// Students lists every connected student once, in first-join order, with
// the name from their most recent connection.
func (r *Registry) Students() []Participant {
	all := r.ListByRole(RoleStudent)

	idx := make(map[string]int, len(all))
	res := make([]Participant, 0, len(all))
	for _, p := range all {
		if i, ok := idx[p.StudentID]; ok {
			res[i].Name = p.Name
			continue
		}
		idx[p.StudentID] = len(res)
		res = append(res, p)
	}
	return res
}

// Kick removes every connection of studentID and returns their ids. It is a
// no-op returning nil when the student has no live connection.
func (r *Registry) Kick(studentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for connID, p := range r.byConn {
		if p.StudentID == studentID {
			ids = append(ids, connID)
			delete(r.byConn, connID)
		}
	}
	sort.Strings(ids)
	return ids
}

// LookupConnections returns the connection ids held by studentID.
func (r *Registry) LookupConnections(studentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for connID, p := range r.byConn {
		if p.StudentID == studentID {
			ids = append(ids, connID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.byConn {
		if p.Role == role {
			n++
		}
	}
	return n
}

// Close drops every entry. Called once the connection layer has shut down.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn = make(map[string]Participant)
}

func sortByJoin(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].ConnID < ps[j].ConnID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}
