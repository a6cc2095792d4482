package index

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Entry is one section as the keyword index sees it.
type Entry struct {
	SectionID  uuid.UUID
	DocumentID uuid.UUID
	Text       string
}

// Hit is one scored section out of a keyword search, ordered by score
// descending with section id as the tie-break.
type Hit struct {
	SectionID  uuid.UUID
	DocumentID uuid.UUID
	Score      float64
}

var termRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

func tokenize(content string) []string {
	return termRegex.FindAllString(strings.ToLower(content), -1)
}

// Snapshot is an immutable BM25 index over one owner's sections. It is
// safe for concurrent reads; mutation happens by building a new snapshot
// and publishing it through the Registry.
type Snapshot struct {
	docFreq     map[string]int
	postings    map[string][]posting
	sectionLen  map[uuid.UUID]int
	sectionDoc  map[uuid.UUID]uuid.UUID
	totalLength int
	count       int

	k1 float64
	b  float64
}

type posting struct {
	sectionID uuid.UUID
	tf        int
}

// Build constructs a snapshot from the given entries. Entries with no
// indexable terms are skipped.
func Build(entries []Entry) *Snapshot {
	s := &Snapshot{
		docFreq:    make(map[string]int),
		postings:   make(map[string][]posting),
		sectionLen: make(map[uuid.UUID]int, len(entries)),
		sectionDoc: make(map[uuid.UUID]uuid.UUID, len(entries)),
		k1:         1.6,
		b:          0.75,
	}

	for _, e := range entries {
		terms := tokenize(e.Text)
		if len(terms) == 0 {
			continue
		}

		s.count++
		s.sectionLen[e.SectionID] = len(terms)
		s.sectionDoc[e.SectionID] = e.DocumentID
		s.totalLength += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term, n := range tf {
			s.postings[term] = append(s.postings[term], posting{sectionID: e.SectionID, tf: n})
			s.docFreq[term]++
		}
	}

	return s
}

// Len returns the number of indexed sections.
func (s *Snapshot) Len() int {
	return s.count
}

// Search scores the query against the snapshot. allowedDocs narrows
// results to sections of those documents; nil means unrestricted.
func (s *Snapshot) Search(query string, limit int, allowedDocs []uuid.UUID) []Hit {
	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 || s.count == 0 {
		return nil
	}

	var allowed map[uuid.UUID]struct{}
	if allowedDocs != nil {
		allowed = make(map[uuid.UUID]struct{}, len(allowedDocs))
		for _, id := range allowedDocs {
			allowed[id] = struct{}{}
		}
	}

	avgLen := float64(s.totalLength) / float64(s.count)
	scores := make(map[uuid.UUID]float64)

	for _, term := range terms {
		postings := s.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := s.docFreq[term]
		idf := math.Log((float64(s.count)-float64(df)+0.5)/(float64(df)+0.5) + 1)

		for _, p := range postings {
			if allowed != nil {
				if _, ok := allowed[s.sectionDoc[p.sectionID]]; !ok {
					continue
				}
			}
			sectionLen := float64(s.sectionLen[p.sectionID])
			numerator := float64(p.tf) * (s.k1 + 1)
			denominator := float64(p.tf) + s.k1*(1-s.b+s.b*(sectionLen/avgLen))
			scores[p.sectionID] += idf * (numerator / denominator)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{SectionID: id, DocumentID: s.sectionDoc[id], Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SectionID.String() < hits[j].SectionID.String()
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Registry holds one published snapshot per owner. Readers always see a
// complete index: Publish swaps the snapshot pointer atomically, so a
// rebuild in progress is invisible until it finishes.
type Registry struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

func NewRegistry() *Registry {
	return &Registry{snapshots: make(map[string]*Snapshot)}
}

// Get returns the owner's current snapshot, or nil if none has been
// published yet.
func (r *Registry) Get(ownerID string) *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshots[ownerID]
}

// Publish replaces the owner's snapshot. The old snapshot stays valid
// for in-flight searches holding a reference to it.
func (r *Registry) Publish(ownerID string, snapshot *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[ownerID] = snapshot
}

// Drop removes the owner's snapshot entirely.
func (r *Registry) Drop(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, ownerID)
}
