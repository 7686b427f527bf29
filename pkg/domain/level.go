package domain

import dErrors "collate/pkg/domain-errors"

// Level is one rung of the geographic hierarchy. Aggregation targets every
// level above polling_station; polling_station itself is where sheets live.
//
// Usage: construct via ParseLevel at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Level string

const (
	LevelPollingStation Level = "polling_station"
	LevelElectoralArea  Level = "electoral_area"
	LevelConstituency   Level = "constituency"
	LevelRegional       Level = "regional"
	LevelNational       Level = "national"
)

// levelOrder is the single source of truth for hierarchy ordering,
// bottom (0) to top.
var levelOrder = []Level{
	LevelPollingStation,
	LevelElectoralArea,
	LevelConstituency,
	LevelRegional,
	LevelNational,
}

// ParseLevel constructs a Level from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "level cannot be empty")
	}
	l := Level(s)
	if !l.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid level %q", s)
	}
	return l, nil
}

// IsValid checks if the level is one of the supported enum values.
func (l Level) IsValid() bool {
	return l.rank() >= 0
}

// IsAggregatable reports whether rollups are computed at this level.
// Sheets are captured at polling stations; everything above aggregates.
func (l Level) IsAggregatable() bool {
	return l.rank() > 0
}

// ChildLevel returns the level directly below, ok=false at the bottom.
func (l Level) ChildLevel() (Level, bool) {
	r := l.rank()
	if r <= 0 {
		return "", false
	}
	return levelOrder[r-1], true
}

// ParentLevel returns the level directly above, ok=false at the top.
func (l Level) ParentLevel() (Level, bool) {
	r := l.rank()
	if r < 0 || r == len(levelOrder)-1 {
		return "", false
	}
	return levelOrder[r+1], true
}

// Above reports whether l sits strictly higher in the hierarchy than other.
func (l Level) Above(other Level) bool {
	return l.rank() > other.rank()
}

func (l Level) rank() int {
	for i, candidate := range levelOrder {
		if candidate == l {
			return i
		}
	}
	return -1
}
