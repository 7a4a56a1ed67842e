package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreStatementLookup(t *testing.T) {
	store := NewStore()

	_, ok := store.Statement("s1")
	assert.False(t, ok)

	store.PutStatement(&PreparedStatement{Name: "s1", Query: "select 1"})

	stmt, ok := store.Statement("s1")
	require.True(t, ok)
	assert.Equal(t, "select 1", stmt.Query)
}

func TestStoreRebindKeepsPortalStatement(t *testing.T) {
	store := NewStore()

	first := &PreparedStatement{Name: "s1", Query: "select 1"}
	store.PutStatement(first)
	store.PutPortal(&Portal{Name: "p1", Statement: first})

	// Rebinding a name stores a new object; the existing portal keeps the
	// statement it was bound against.
	store.PutStatement(&PreparedStatement{Name: "s1", Query: "select 2"})

	portal, ok := store.Portal("p1")
	require.True(t, ok)
	assert.Same(t, first, portal.Statement)
	assert.Equal(t, "select 1", portal.Statement.Query)

	stmt, ok := store.Statement("s1")
	require.True(t, ok)
	assert.Equal(t, "select 2", stmt.Query)
}

func TestStoreCloseStatementRemovesPortals(t *testing.T) {
	store := NewStore()

	stmt := &PreparedStatement{Name: "s1", Query: "select 1"}
	other := &PreparedStatement{Name: "s2", Query: "select 2"}
	store.PutStatement(stmt)
	store.PutStatement(other)
	store.PutPortal(&Portal{Name: "p1", Statement: stmt})
	store.PutPortal(&Portal{Name: "p2", Statement: stmt})
	store.PutPortal(&Portal{Name: "p3", Statement: other})

	store.CloseStatement("s1")

	_, ok := store.Statement("s1")
	assert.False(t, ok)
	_, ok = store.Portal("p1")
	assert.False(t, ok)
	_, ok = store.Portal("p2")
	assert.False(t, ok)

	// Portals of other statements are untouched.
	_, ok = store.Portal("p3")
	assert.True(t, ok)
}

func TestStoreCloseUnknownIsNoop(t *testing.T) {
	store := NewStore()

	store.CloseStatement("missing")
	store.ClosePortal("missing")
}

func TestStoreClear(t *testing.T) {
	store := NewStore()

	stmt := &PreparedStatement{Name: "s1", Query: "select 1"}
	store.PutStatement(stmt)
	store.PutPortal(&Portal{Name: "p1", Statement: stmt})

	store.Clear()

	_, ok := store.Statement("s1")
	assert.False(t, ok)
	_, ok = store.Portal("p1")
	assert.False(t, ok)
}

func TestStoreUnnamedEntries(t *testing.T) {
	store := NewStore()

	store.PutStatement(&PreparedStatement{Name: "", Query: "select 1"})
	store.PutStatement(&PreparedStatement{Name: "", Query: "select 2"})

	stmt, ok := store.Statement("")
	require.True(t, ok)
	assert.Equal(t, "select 2", stmt.Query)
}
