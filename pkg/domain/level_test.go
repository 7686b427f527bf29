package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "collate/pkg/domain-errors"
)

func TestParseLevel(t *testing.T) {
	t.Run("accepts every hierarchy level", func(t *testing.T) {
		for _, s := range []string{"polling_station", "electoral_area", "constituency", "regional", "national"} {
			l, err := ParseLevel(s)
			require.NoError(t, err)
			assert.Equal(t, Level(s), l)
		}
	})

	t.Run("rejects unknown and empty values", func(t *testing.T) {
		for _, s := range []string{"", "district", "REGIONAL", "polling-station"} {
			_, err := ParseLevel(s)
			require.Error(t, err, "input %q", s)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})
}

func TestLevelOrdering(t *testing.T) {
	t.Run("child and parent walk the hierarchy", func(t *testing.T) {
		child, ok := LevelElectoralArea.ChildLevel()
		require.True(t, ok)
		assert.Equal(t, LevelPollingStation, child)

		parent, ok := LevelElectoralArea.ParentLevel()
		require.True(t, ok)
		assert.Equal(t, LevelConstituency, parent)
	})

	t.Run("hierarchy is bounded", func(t *testing.T) {
		_, ok := LevelPollingStation.ChildLevel()
		assert.False(t, ok)

		_, ok = LevelNational.ParentLevel()
		assert.False(t, ok)
	})

	t.Run("only polling_station is not aggregatable", func(t *testing.T) {
		assert.False(t, LevelPollingStation.IsAggregatable())
		for _, l := range []Level{LevelElectoralArea, LevelConstituency, LevelRegional, LevelNational} {
			assert.True(t, l.IsAggregatable(), "level %s", l)
		}
	})

	t.Run("Above compares ranks", func(t *testing.T) {
		assert.True(t, LevelNational.Above(LevelRegional))
		assert.False(t, LevelPollingStation.Above(LevelElectoralArea))
		assert.False(t, LevelRegional.Above(LevelRegional))
	})
}
