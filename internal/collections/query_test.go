package collections

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/entities"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

func entity(t *testing.T, name string) entities.Entity {
	t.Helper()
	cat, err := entities.Default()
	require.NoError(t, err)
	ent, err := cat.Entity(name)
	require.NoError(t, err)
	return ent
}

func TestParseQueryDefaults(t *testing.T) {
	q, err := ParseQuery(entity(t, "customers"), url.Values{}, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 20, q.PageSize)
	assert.Equal(t, "name", q.SortBy)
	assert.False(t, q.SortDesc)
	assert.Empty(t, q.Conditions)
}

func TestParseQueryConditions(t *testing.T) {
	params := url.Values{
		"currency_id":     {"2"},
		"search":          {"50%_off"},
		"active":          {"true"},
		"created_at_from": {"2024-01-01"},
		"created_at_to":   {"2024-01-31"},
		"sortBy":          {"loan"},
		"sortOrder":       {"DESC"},
		"page":            {"3"},
		"pageSize":        {"500"},
		"unrelated":       {"x"},
	}
	q, err := ParseQuery(entity(t, "customers"), params, 100)
	require.NoError(t, err)

	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 100, q.PageSize)
	assert.Equal(t, "loan", q.SortBy)
	assert.True(t, q.SortDesc)

	require.Len(t, q.Conditions, 4)
	assert.Equal(t, "active", q.Conditions[0].Filter.Key)
	assert.Equal(t, true, q.Conditions[0].Value)

	rng := q.Conditions[1]
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rng.Value)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), rng.Upper)

	assert.Equal(t, int64(2), q.Conditions[2].Value)
	assert.Equal(t, `%50\%\_off%`, q.Conditions[3].Value)
}

func TestParseQueryFalseBoolAddsNoCondition(t *testing.T) {
	q, err := ParseQuery(entity(t, "customers"), url.Values{"active": {"false"}}, 0)
	require.NoError(t, err)
	assert.Empty(t, q.Conditions)
}

func TestParseQueryOpenRange(t *testing.T) {
	q, err := ParseQuery(entity(t, "expenses"), url.Values{"spent_to": {"2024-05-10"}}, 0)
	require.NoError(t, err)
	require.Len(t, q.Conditions, 1)
	assert.Nil(t, q.Conditions[0].Value)
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), q.Conditions[0].Upper)
}

func TestParseQueryNumberFilter(t *testing.T) {
	q, err := ParseQuery(entity(t, "item_transactions"), url.Values{"min_quantity": {"2.5"}}, 0)
	require.NoError(t, err)
	require.Len(t, q.Conditions, 1)
	assert.Equal(t, 2.5, q.Conditions[0].Value)
}

func TestParseQueryRejectsMalformedInput(t *testing.T) {
	cases := map[string]url.Values{
		"zero page":          {"page": {"0"}},
		"text page size":     {"pageSize": {"ten"}},
		"unsortable field":   {"sortBy": {"phone"}},
		"bad sort order":     {"sortOrder": {"up"}},
		"text currency":      {"currency_id": {"usd"}},
		"bad bool":           {"active": {"maybe"}},
		"bad date":           {"created_at_from": {"01/02/2024"}},
		"inverted date span": {"created_at_from": {"2024-02-01"}, "created_at_to": {"2024-01-01"}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQuery(entity(t, "customers"), params, 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, httpx.ErrValidation))
		})
	}
}

func TestParseQuerySameDayRange(t *testing.T) {
	q, err := ParseQuery(entity(t, "customers"), url.Values{
		"created_at_from": {"2024-01-01"},
		"created_at_to":   {"2024-01-01"},
	}, 0)
	require.NoError(t, err)
	assert.Len(t, q.Conditions, 1)
}
