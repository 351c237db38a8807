package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticCatalog_Lookup(t *testing.T) {
	catalog, err := NewStaticCatalog(Election{ID: "e1", Candidates: []string{"b", "a"}})
	require.NoError(t, err)

	require.True(t, catalog.ElectionExists("e1"))
	require.False(t, catalog.ElectionExists("e2"))
	require.True(t, catalog.CandidateExists("e1", "a"))
	require.False(t, catalog.CandidateExists("e1", "c"))
	require.False(t, catalog.CandidateExists("e2", "a"))
	require.Equal(t, []string{"a", "b"}, catalog.Candidates("e1"))
	require.Empty(t, catalog.Candidates("e2"))
}

func TestStaticCatalog_AddElection(t *testing.T) {
	catalog, err := NewStaticCatalog()
	require.NoError(t, err)

	err = catalog.AddElection(Election{ID: "", Candidates: []string{"a"}})
	require.EqualError(t, err, `invalid election "": id is required`)

	err = catalog.AddElection(Election{ID: "e1"})
	require.EqualError(t, err, `invalid election "e1": at least one candidate is required`)

	err = catalog.AddElection(Election{ID: "e1", Candidates: []string{"a", ""}})
	require.EqualError(t, err, `invalid election "e1": candidate id is required`)

	err = catalog.AddElection(Election{ID: "e1", Candidates: []string{"a", "a"}})
	require.EqualError(t, err, `invalid election "e1": duplicate candidate "a"`)

	require.NoError(t, catalog.AddElection(Election{ID: "e1", Candidates: []string{"a"}}))
	require.NoError(t, catalog.AddElection(Election{ID: "e1", Candidates: []string{"b"}}))
	require.False(t, catalog.CandidateExists("e1", "a"))
	require.True(t, catalog.CandidateExists("e1", "b"))

	_, err = NewStaticCatalog(Election{ID: "e1"})
	require.Error(t, err)
}
