package pages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecheck/internal/audit/models"
	"sitecheck/internal/crawler"
)

type fakeMapper struct {
	pages []crawler.PageCandidate
	err   error
	calls int
}

func (f *fakeMapper) Map(_ context.Context, _ string) ([]crawler.PageCandidate, error) {
	f.calls++
	return f.pages, f.err
}

func TestSelect_FreeTierIsHomepageOnly(t *testing.T) {
	mapper := &fakeMapper{pages: []crawler.PageCandidate{{URL: "https://example.com/pricing"}}}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierFree)

	assert.Equal(t, []string{"https://example.com"}, urls)
	assert.Zero(t, mapper.calls, "free tier must not request a site map")
}

func TestSelect_RanksByDepthThenLength(t *testing.T) {
	mapper := &fakeMapper{pages: []crawler.PageCandidate{
		{URL: "https://example.com/docs/getting-started/install"},
		{URL: "https://example.com/pricing"},
		{URL: "https://example.com/about-the-company"},
		{URL: "https://example.com/docs/api"},
	}}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierPaid)

	assert.Equal(t, []string{
		"https://example.com",
		"https://example.com/pricing",
		"https://example.com/about-the-company",
		"https://example.com/docs/api",
		"https://example.com/docs/getting-started/install",
	}, urls)
}

func TestSelect_ExcludesLocalePaths(t *testing.T) {
	mapper := &fakeMapper{pages: []crawler.PageCandidate{
		{URL: "https://example.com/fr/tarifs"},
		{URL: "https://example.com/pt-br/precos"},
		{URL: "https://example.com/pricing"},
	}}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierPaid)

	assert.Equal(t, []string{"https://example.com", "https://example.com/pricing"}, urls)
}

func TestSelect_BlogSwitch(t *testing.T) {
	mapper := &fakeMapper{pages: []crawler.PageCandidate{
		{URL: "https://example.com/blog/launch-week"},
		{URL: "https://example.com/pricing"},
	}}
	selector, err := New(mapper)
	require.NoError(t, err)

	// PAID includes long-form sections.
	urls := selector.Select(context.Background(), "example.com", models.TierPaid)
	assert.Contains(t, urls, "https://example.com/blog/launch-week")
}

func TestSelect_CapsAtPageBudget(t *testing.T) {
	var candidates []crawler.PageCandidate
	for i := 0; i < 40; i++ {
		candidates = append(candidates, crawler.PageCandidate{
			URL: "https://example.com/page-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
		})
	}
	mapper := &fakeMapper{pages: candidates}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierEnterprise)
	assert.Len(t, urls, models.TierEnterprise.Limits().PageBudget)
	assert.Equal(t, "https://example.com", urls[0])
}

func TestSelect_MapFailureFallsBackToHomepage(t *testing.T) {
	mapper := &fakeMapper{err: errors.New("map service down")}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierPaid)
	assert.Equal(t, []string{"https://example.com"}, urls)
}

func TestSelect_EmptyMapFallsBackToHomepage(t *testing.T) {
	mapper := &fakeMapper{}
	selector, err := New(mapper)
	require.NoError(t, err)

	urls := selector.Select(context.Background(), "example.com", models.TierPaid)
	assert.Equal(t, []string{"https://example.com"}, urls)
}
