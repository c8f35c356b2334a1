package routing

import (
	"context"
	"testing"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadderResolver_SiteLadderWins(t *testing.T) {
	dir := newMemDirectory()
	dir.add(pushTech(1, 10))
	dir.add(pushTech(2, 20))
	dir.ladders["site-7"] = []int64{2, 1}

	siteID := "site-7"
	resolver := NewLadderResolver(dir)
	ladder, err := resolver.Resolve(context.Background(), &domain.Incident{SiteID: &siteID})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 1}, ladder)
}

func TestLadderResolver_EmptySiteLadderFallsBack(t *testing.T) {
	dir := newMemDirectory()
	dir.add(pushTech(1, 10))
	dir.add(pushTech(2, 20))

	siteID := "site-without-ladder"
	resolver := NewLadderResolver(dir)
	ladder, err := resolver.Resolve(context.Background(), &domain.Incident{SiteID: &siteID})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, ladder)
}

func TestLadderResolver_PriorityOrderWithTies(t *testing.T) {
	dir := newMemDirectory()
	dir.add(pushTech(5, 20))
	dir.add(pushTech(3, 10))
	dir.add(pushTech(4, 10))

	resolver := NewLadderResolver(dir)
	ladder, err := resolver.Resolve(context.Background(), &domain.Incident{})
	require.NoError(t, err)

	// Equal ranks break ties by ascending id.
	assert.Equal(t, []int64{3, 4, 5}, ladder)
}

func TestLadderResolver_ExcludesUnavailable(t *testing.T) {
	dir := newMemDirectory()
	dir.add(pushTech(1, 10))
	off := pushTech(2, 5)
	off.Available = false
	dir.add(off)
	inactive := pushTech(3, 1)
	inactive.Active = false
	dir.add(inactive)

	resolver := NewLadderResolver(dir)
	ladder, err := resolver.Resolve(context.Background(), &domain.Incident{})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, ladder)
}

func TestNextCandidate(t *testing.T) {
	ladder := []int64{3, 1, 2}

	next, ok := NextCandidate(ladder, nil)
	require.True(t, ok)
	assert.Equal(t, int64(3), next)

	next, ok = NextCandidate(ladder, []int64{3})
	require.True(t, ok)
	assert.Equal(t, int64(1), next)

	next, ok = NextCandidate(ladder, []int64{3, 1, 2})
	assert.False(t, ok)
	assert.Equal(t, int64(0), next)
}

func TestNextCandidate_AttemptedNotInLadder(t *testing.T) {
	// A remembered attempt for a technician who has since dropped out of the
	// ladder still counts as tried.
	next, ok := NextCandidate([]int64{1, 2}, []int64{9, 1})
	require.True(t, ok)
	assert.Equal(t, int64(2), next)
}
