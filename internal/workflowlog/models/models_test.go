package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
)

type EntryModelSuite struct {
	suite.Suite
	election id.ElectionID
	officer  id.OfficerID
	now      time.Time
}

func TestEntryModelSuite(t *testing.T) {
	suite.Run(t, new(EntryModelSuite))
}

func (s *EntryModelSuite) SetupTest() {
	s.election = id.ElectionID(uuid.New())
	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
}

func (s *EntryModelSuite) TestNewForSheet() {
	s.Run("builds a station-level entry", func() {
		sheetID := id.SheetID(uuid.New())
		entry, err := NewForSheet(s.election, sheetID, ActionSubmitted, "draft", "submitted", s.officer, s.now)
		s.Require().NoError(err)
		s.Require().NotNil(entry.SheetID)
		s.Equal(sheetID, *entry.SheetID)
		s.Nil(entry.CollationResultID)
		s.Equal(id.LevelPollingStation, entry.Level)
		s.Equal("draft", entry.FromStatus)
		s.Equal(s.now, entry.CreatedAt)
	})

	s.Run("missing sheet rejected", func() {
		_, err := NewForSheet(s.election, id.SheetID{}, ActionSubmitted, "draft", "submitted", s.officer, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("missing actor rejected", func() {
		_, err := NewForSheet(s.election, id.SheetID(uuid.New()), ActionSubmitted, "draft", "submitted", id.OfficerID{}, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("missing target status rejected", func() {
		_, err := NewForSheet(s.election, id.SheetID(uuid.New()), ActionSubmitted, "draft", "", s.officer, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *EntryModelSuite) TestNewForCollationResult() {
	s.Run("builds a rollup entry at the given level", func() {
		resultID := id.CollationResultID(uuid.New())
		entry, err := NewForCollationResult(s.election, resultID, id.LevelConstituency, ActionVerified, "submitted", "verified", s.officer, s.now)
		s.Require().NoError(err)
		s.Require().NotNil(entry.CollationResultID)
		s.Equal(resultID, *entry.CollationResultID)
		s.Nil(entry.SheetID)
		s.Equal(id.LevelConstituency, entry.Level)
	})

	s.Run("station level rejected for rollups", func() {
		_, err := NewForCollationResult(s.election, id.CollationResultID(uuid.New()), id.LevelPollingStation, ActionVerified, "submitted", "verified", s.officer, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("missing result rejected", func() {
		_, err := NewForCollationResult(s.election, id.CollationResultID{}, id.LevelRegional, ActionVerified, "submitted", "verified", s.officer, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}
