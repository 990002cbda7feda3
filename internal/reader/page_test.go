package reader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePageTable(t *testing.T) {
	oldBytes := Page{URL: "p", Status: PageRemote, Data: []byte("old")}
	newBytes := Page{URL: "p", Status: PageRemote, Data: []byte("new")}
	loading := Page{URL: "p", Status: PageLoading}
	missing := Page{URL: "p", Status: PageNotFound, Err: errors.New("404")}

	cases := []struct {
		name     string
		existing Page
		incoming Page
		want     Page
	}{
		{"not found then remote", missing, newBytes, newBytes},
		{"not found then not found", missing, missing, missing},
		{"not found then loading", missing, loading, loading},
		{"loading then remote", loading, newBytes, newBytes},
		{"loading then not found", loading, missing, missing},
		{"remote then remote refreshes", oldBytes, newBytes, newBytes},
		{"remote then loading keeps bytes", oldBytes, loading, oldBytes},
		{"remote then not found keeps bytes", oldBytes, missing, oldBytes},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			merged := mergePage(tc.existing, tc.incoming)
			assert.Equal(t, tc.want, merged)
			assert.Equal(t, merged, mergePage(merged, tc.incoming), "merge must be idempotent")
		})
	}
}

func TestPageTerminal(t *testing.T) {
	assert.False(t, Page{Status: PageLoading}.Terminal())
	assert.True(t, Page{Status: PageRemote}.Terminal())
	assert.True(t, Page{Status: PageNotFound}.Terminal())
}

func TestPartition(t *testing.T) {
	ids := make([]string, 23)
	for index := range ids {
		ids[index] = pageID("c", index)
	}

	blocks := partition(ids, PageBlockSize)
	assert.Len(t, blocks, 3)
	assert.Equal(t, ids[0:10], blocks[0].members)
	assert.Equal(t, ids[10:20], blocks[1].members)
	assert.Equal(t, ids[20:23], blocks[2].members)
	assert.Equal(t, "c/p22", blocks[2].last())

	assert.Len(t, partition(ids[:20], PageBlockSize), 2)
	assert.Len(t, partition(ids[:20], PageBlockSize)[1].members, PageBlockSize)
	assert.Empty(t, partition(nil, PageBlockSize))
}
