package index

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEntry(docID uuid.UUID, text string) Entry {
	return Entry{SectionID: uuid.New(), DocumentID: docID, Text: text}
}

func TestTokenize(t *testing.T) {
	t.Run("lowercases and splits on punctuation", func(t *testing.T) {
		assert.Equal(t, []string{"hello", "world"}, tokenize("Hello, World!"))
	})

	t.Run("keeps digit runs", func(t *testing.T) {
		assert.Equal(t, []string{"port", "8080"}, tokenize("port 8080"))
	})

	t.Run("handles accents", func(t *testing.T) {
		assert.Equal(t, []string{"café", "naïve"}, tokenize("Café naïve"))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, tokenize("  ... !!! "))
	})
}

func TestSnapshotSearchRelevance(t *testing.T) {
	docID := uuid.New()
	photosynthesis := makeEntry(docID, "Photosynthesis converts light energy into chemical energy in plants.")
	mitosis := makeEntry(docID, "Mitosis is the process of cell division producing two identical cells.")
	krebs := makeEntry(docID, "The Krebs cycle produces energy carriers inside the mitochondria.")

	snap := Build([]Entry{photosynthesis, mitosis, krebs})
	require.Equal(t, 3, snap.Len())

	hits := snap.Search("photosynthesis light energy", 10, nil)
	require.NotEmpty(t, hits)
	assert.Equal(t, photosynthesis.SectionID, hits[0].SectionID)
	assert.Equal(t, docID, hits[0].DocumentID)

	// Scores descend.
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSnapshotSearchRareTermWins(t *testing.T) {
	docID := uuid.New()
	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, makeEntry(docID, fmt.Sprintf("common words about topic number %d", i)))
	}
	rare := makeEntry(docID, "common words plus the xylophone appears exactly once")
	entries = append(entries, rare)

	snap := Build(entries)
	hits := snap.Search("xylophone", 5, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, rare.SectionID, hits[0].SectionID)
}

func TestSnapshotSearchEmptyQuery(t *testing.T) {
	snap := Build([]Entry{makeEntry(uuid.New(), "some indexed text")})
	assert.Nil(t, snap.Search("", 10, nil))
	assert.Nil(t, snap.Search("!!! ...", 10, nil))
}

func TestSnapshotSearchEmptyIndex(t *testing.T) {
	snap := Build(nil)
	assert.Equal(t, 0, snap.Len())
	assert.Nil(t, snap.Search("anything", 10, nil))
}

func TestSnapshotSearchLimit(t *testing.T) {
	docID := uuid.New()
	var entries []Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, makeEntry(docID, "shared vocabulary in every section"))
	}

	snap := Build(entries)
	hits := snap.Search("shared vocabulary", 5, nil)
	assert.Len(t, hits, 5)
}

func TestSnapshotSearchAllowList(t *testing.T) {
	allowedDoc := uuid.New()
	blockedDoc := uuid.New()

	inScope := makeEntry(allowedDoc, "quantum entanglement explained simply")
	outOfScope := makeEntry(blockedDoc, "quantum entanglement explained thoroughly")

	snap := Build([]Entry{inScope, outOfScope})

	t.Run("nil allow-list is unrestricted", func(t *testing.T) {
		hits := snap.Search("quantum entanglement", 10, nil)
		assert.Len(t, hits, 2)
	})

	t.Run("allow-list filters by document", func(t *testing.T) {
		hits := snap.Search("quantum entanglement", 10, []uuid.UUID{allowedDoc})
		require.Len(t, hits, 1)
		assert.Equal(t, inScope.SectionID, hits[0].SectionID)
	})

	t.Run("empty allow-list matches nothing", func(t *testing.T) {
		hits := snap.Search("quantum entanglement", 10, []uuid.UUID{})
		assert.Empty(t, hits)
	})
}

func TestSnapshotSearchTieBreak(t *testing.T) {
	docID := uuid.New()
	a := makeEntry(docID, "identical section body")
	b := makeEntry(docID, "identical section body")

	snap := Build([]Entry{a, b})
	hits := snap.Search("identical section", 10, nil)
	require.Len(t, hits, 2)

	// Equal scores break ties on section id, so repeated searches agree.
	assert.Less(t, hits[0].SectionID.String(), hits[1].SectionID.String())
	again := snap.Search("identical section", 10, nil)
	assert.Equal(t, hits, again)
}

func TestBuildSkipsEmptyEntries(t *testing.T) {
	snap := Build([]Entry{
		makeEntry(uuid.New(), "real content"),
		makeEntry(uuid.New(), "   "),
		makeEntry(uuid.New(), "..."),
	})
	assert.Equal(t, 1, snap.Len())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	t.Run("missing owner returns nil", func(t *testing.T) {
		assert.Nil(t, reg.Get("nobody"))
	})

	t.Run("publish then get", func(t *testing.T) {
		snap := Build([]Entry{makeEntry(uuid.New(), "owner one text")})
		reg.Publish("owner1", snap)
		assert.Same(t, snap, reg.Get("owner1"))
	})

	t.Run("publish replaces but old snapshot stays usable", func(t *testing.T) {
		old := Build([]Entry{makeEntry(uuid.New(), "first generation")})
		reg.Publish("owner2", old)
		held := reg.Get("owner2")

		reg.Publish("owner2", Build([]Entry{makeEntry(uuid.New(), "second generation")}))

		// The reference taken before the swap still answers queries.
		hits := held.Search("first generation", 10, nil)
		assert.Len(t, hits, 1)
		assert.NotSame(t, held, reg.Get("owner2"))
	})

	t.Run("drop removes the snapshot", func(t *testing.T) {
		reg.Publish("owner3", Build(nil))
		reg.Drop("owner3")
		assert.Nil(t, reg.Get("owner3"))
	})

	t.Run("owners are isolated", func(t *testing.T) {
		aSnap := Build([]Entry{makeEntry(uuid.New(), "alpha content")})
		bSnap := Build([]Entry{makeEntry(uuid.New(), "beta content")})
		reg.Publish("ownerA", aSnap)
		reg.Publish("ownerB", bSnap)
		assert.Same(t, aSnap, reg.Get("ownerA"))
		assert.Same(t, bSnap, reg.Get("ownerB"))
	})
}
