package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"collate/internal/resultsheet/models"
	id "collate/pkg/domain"
	"collate/pkg/platform/sentinel"
)

type naturalKey struct {
	election id.ElectionID
	position id.PositionID
	station  id.PollingStationID
	typ      models.SheetType
}

// InMemoryStore is the dev and test double for the PostgreSQL store. It
// mirrors the compare-and-set semantics of the conditional updates.
type InMemoryStore struct {
	mu          sync.Mutex
	sheets      map[id.SheetID]models.ResultSheet
	byKey       map[naturalKey]id.SheetID
	entries     map[id.SheetID][]models.Entry
	attachments map[id.SheetID][]models.Attachment
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		sheets:      make(map[id.SheetID]models.ResultSheet),
		byKey:       make(map[naturalKey]id.SheetID),
		entries:     make(map[id.SheetID][]models.Entry),
		attachments: make(map[id.SheetID][]models.Attachment),
	}
}

func sheetKey(r *models.ResultSheet) naturalKey {
	return naturalKey{
		election: r.ElectionID,
		position: r.PositionID,
		station:  r.PollingStationID,
		typ:      r.SheetType,
	}
}

func (s *InMemoryStore) CreateSheet(_ context.Context, r *models.ResultSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sheetKey(r)
	if _, exists := s.byKey[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.sheets[r.ID] = *r
	s.byKey[key] = r.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, sheetID id.SheetID) (*models.ResultSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheet, ok := s.sheets[sheetID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &sheet, nil
}

func (s *InMemoryStore) UpdateWorkflow(_ context.Context, r *models.ResultSheet, expected models.SheetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sheets[r.ID]
	if !ok || current.Status != expected {
		return sentinel.ErrConflict
	}
	s.sheets[r.ID] = *r
	return nil
}

func (s *InMemoryStore) UpdateFigures(_ context.Context, r *models.ResultSheet, expected models.SheetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sheets[r.ID]
	if !ok || current.Status != expected {
		return sentinel.ErrConflict
	}
	current.RegisteredVoters = r.RegisteredVoters
	current.BallotsIssued = r.BallotsIssued
	current.BallotsCast = r.BallotsCast
	current.ValidVotes = r.ValidVotes
	current.RejectedBallots = r.RejectedBallots
	current.SpoiltBallots = r.SpoiltBallots
	current.UnusedBallots = r.UnusedBallots
	current.UpdatedAt = r.UpdatedAt
	s.sheets[r.ID] = current
	return nil
}

func (s *InMemoryStore) ReplaceEntries(_ context.Context, sheetID id.SheetID, entries []models.Entry, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheet, ok := s.sheets[sheetID]
	if !ok || sheet.Status != models.StatusDraft {
		return sentinel.ErrConflict
	}
	sheet.UpdatedAt = now
	s.sheets[sheetID] = sheet
	s.entries[sheetID] = append([]models.Entry(nil), entries...)
	return nil
}

func (s *InMemoryStore) ListEntries(_ context.Context, sheetID id.SheetID) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append([]models.Entry(nil), s.entries[sheetID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].BallotOrder < entries[j].BallotOrder
	})
	return entries, nil
}

func (s *InMemoryStore) AddAttachment(_ context.Context, a *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attachments[a.SheetID] = append(s.attachments[a.SheetID], *a)
	return nil
}

func (s *InMemoryStore) ListAttachments(_ context.Context, sheetID id.SheetID) ([]models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attachments := append([]models.Attachment(nil), s.attachments[sheetID]...)
	sort.SliceStable(attachments, func(i, j int) bool {
		return attachments[i].UploadedAt.After(attachments[j].UploadedAt)
	})
	return attachments, nil
}

func (s *InMemoryStore) ListForStations(_ context.Context, electionID id.ElectionID, positionID id.PositionID, stationIDs []id.PollingStationID) ([]models.ResultSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[id.PollingStationID]bool, len(stationIDs))
	for _, stationID := range stationIDs {
		wanted[stationID] = true
	}
	var sheets []models.ResultSheet
	for _, sheet := range s.sheets {
		if sheet.ElectionID != electionID || sheet.PositionID != positionID {
			continue
		}
		if sheet.SheetType != models.SheetTypePrimary || !wanted[sheet.PollingStationID] {
			continue
		}
		sheets = append(sheets, sheet)
	}
	sort.Slice(sheets, func(i, j int) bool {
		if !sheets[i].CreatedAt.Equal(sheets[j].CreatedAt) {
			return sheets[i].CreatedAt.Before(sheets[j].CreatedAt)
		}
		return sheets[i].ID.String() < sheets[j].ID.String()
	})
	return sheets, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context, electionID id.ElectionID) (map[models.SheetStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.SheetStatus]int)
	for _, sheet := range s.sheets {
		if sheet.ElectionID != electionID || sheet.SheetType != models.SheetTypePrimary {
			continue
		}
		counts[sheet.Status]++
	}
	return counts, nil
}

func (s *InMemoryStore) TopCandidates(_ context.Context, electionID id.ElectionID, limit int) ([]models.CandidateTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := make(map[models.CandidateTotal]int)
	for sheetID, entries := range s.entries {
		sheet, ok := s.sheets[sheetID]
		if !ok || sheet.ElectionID != electionID ||
			sheet.SheetType != models.SheetTypePrimary || !sheet.Status.Counted() {
			continue
		}
		for _, entry := range entries {
			key := models.CandidateTotal{CandidateName: entry.CandidateName, Party: entry.Party}
			sums[key] += entry.VotesInFigures
		}
	}

	totals := make([]models.CandidateTotal, 0, len(sums))
	for key, votes := range sums {
		key.Votes = votes
		totals = append(totals, key)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Votes != totals[j].Votes {
			return totals[i].Votes > totals[j].Votes
		}
		return totals[i].CandidateName < totals[j].CandidateName
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}
