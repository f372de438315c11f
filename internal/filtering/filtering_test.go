package filtering

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-autopilot/internal/catalog"
)

type fakeHistory struct {
	ids []string
	err error
}

func (f fakeHistory) AppliedJobIDs(context.Context, string) ([]string, error) {
	return f.ids, f.err
}

func jobs() []catalog.JobListing {
	return []catalog.JobListing{
		{ID: "1", Company: "Acme"},
		{ID: "2", Company: "Globex"},
		{ID: "3", Company: "acme "},
		{ID: "4", Company: "Initech"},
	}
}

func ids(list []catalog.JobListing) []string {
	out := make([]string, 0, len(list))
	for _, j := range list {
		out = append(out, j.ID)
	}
	return out
}

func TestRunAppliesStepsInOrder(t *testing.T) {
	t.Parallel()

	excludePath := filepath.Join(t.TempDir(), "exclude.json")
	require.NoError(t, ToExcluded([]catalog.JobListing{{ID: "4"}}, time.Now()).ToFile(excludePath))

	core, observed := observer.New(zapcore.DebugLevel)
	steps := []Filter{
		NewExcludedCompanies([]string{"ACME"}),
		NewExcludeFile(excludePath),
		NewAppliedHistory(fakeHistory{ids: []string{"2"}}, false),
	}

	left, err := Run(context.Background(), zap.New(core), steps, "u-1", jobs())
	require.NoError(t, err)
	require.Empty(t, left)

	entries := observed.FilterMessage("filter step").All()
	require.Len(t, entries, 3)
	require.Equal(t, "excluded_companies", entries[0].ContextMap()["name"])
	require.EqualValues(t, 2, entries[0].ContextMap()["dropped"])
}

func TestAppliedHistoryIgnore(t *testing.T) {
	t.Parallel()

	f := NewAppliedHistory(nil, true)
	left, step, err := f.Apply(context.Background(), "u-1", jobs())
	require.NoError(t, err)
	require.Len(t, left, 4)
	require.Equal(t, Step{Initial: 4, Left: 4}, step)

	_, _, err = NewAppliedHistory(fakeHistory{err: errors.New("db down")}, false).Apply(context.Background(), "u-1", jobs())
	require.ErrorContains(t, err, "db down")
}

func TestRunWrapsStepErrors(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), nil, []Filter{NewAppliedHistory(nil, false)}, "u-1", jobs())
	require.ErrorContains(t, err, "applied_history:")
}

func TestExcludeFileRoundTripAndAppend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exclude.json")

	empty, err := LoadExcluded(path)
	require.NoError(t, err)
	require.Empty(t, empty.Items)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	empty.Append(ToExcluded(jobs()[:2], now))
	empty.Append(ToExcluded(jobs()[1:3], now))
	require.NoError(t, empty.ToFile(path))

	loaded, err := LoadExcluded(path)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 3)

	left, step, err := NewExcludeFile(path).Apply(context.Background(), "u-1", jobs())
	require.NoError(t, err)
	require.Equal(t, []string{"4"}, ids(left))
	require.Equal(t, Step{Initial: 4, Dropped: 3, Left: 1}, step)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	statuses := Describe([]Filter{
		NewExcludedCompanies([]string{"Acme"}),
		NewExcludeFile(""),
		NewAppliedHistory(nil, true),
	})
	require.Len(t, statuses, 3)
	require.Equal(t, "acme", statuses[0].Details["companies"])
	require.Empty(t, statuses[1].Details)
	require.Equal(t, "false", statuses[2].Details["exclude_applied"])
}
