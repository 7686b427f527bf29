package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"collate/internal/election/store"
	geoservice "collate/internal/geography/service"
	geostore "collate/internal/geography/store"
	id "collate/pkg/domain"
	dErrors "collate/pkg/domain-errors"
	"collate/pkg/requestcontext"
)

type ElectionServiceSuite struct {
	suite.Suite
	geo      *geostore.InMemoryStore
	store    *store.InMemoryStore
	service  *Service
	orgID    id.OrgID
	election id.ElectionID
	now      time.Time
}

func TestElectionServiceSuite(t *testing.T) {
	suite.Run(t, new(ElectionServiceSuite))
}

func (s *ElectionServiceSuite) SetupTest() {
	s.geo = geostore.NewInMemory()
	s.store = store.NewInMemory(s.geo)
	s.service = New(s.store, WithStationFinder(s.geo))
	s.orgID = id.OrgID(uuid.New())
	s.election = id.ElectionID(uuid.New())
	s.now = time.Date(2025, 11, 3, 6, 30, 0, 0, time.UTC)
}

func (s *ElectionServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

// seedStations builds one region/constituency and two areas with the given
// number of stations each, returning area IDs and station IDs per area.
func (s *ElectionServiceSuite) seedStations(perArea ...int) ([]id.ElectoralAreaID, [][]id.PollingStationID) {
	ctx := s.ctx()
	geoSvc := geoservice.New(s.geo)
	region, err := geoSvc.CreateRegion(ctx, s.orgID, "Greater Accra", "", nil)
	s.Require().NoError(err)
	constituency, err := geoSvc.CreateConstituency(ctx, s.orgID, region.ID, "Ayawaso West", "", nil)
	s.Require().NoError(err)

	var areaIDs []id.ElectoralAreaID
	var stations [][]id.PollingStationID
	for i, n := range perArea {
		area, err := geoSvc.CreateElectoralArea(ctx, s.orgID, constituency.ID, "Area "+string(rune('A'+i)), "", nil)
		s.Require().NoError(err)
		areaIDs = append(areaIDs, area.ID)
		var ids []id.PollingStationID
		for j := 0; j < n; j++ {
			station, err := geoSvc.CreatePollingStation(ctx, s.orgID, area.ID, "Station "+string(rune('A'+i))+string(rune('1'+j)), "", 500, nil)
			s.Require().NoError(err)
			ids = append(ids, station.ID)
		}
		stations = append(stations, ids)
	}
	return areaIDs, stations
}

func (s *ElectionServiceSuite) TestActivateStations() {
	_, stations := s.seedStations(2)

	s.Run("activates a batch", func() {
		n, err := s.service.ActivateStations(s.ctx(), s.election, stations[0])
		s.NoError(err)
		s.Equal(2, n)
	})

	s.Run("repeat activation is a no-op", func() {
		n, err := s.service.ActivateStations(s.ctx(), s.election, stations[0])
		s.NoError(err)
		s.Equal(0, n)
	})

	s.Run("empty batch rejected", func() {
		_, err := s.service.ActivateStations(s.ctx(), s.election, nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown station rejected", func() {
		_, err := s.service.ActivateStations(s.ctx(), s.election, []id.PollingStationID{id.PollingStationID(uuid.New())})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("nil election rejected", func() {
		_, err := s.service.ActivateStations(s.ctx(), id.ElectionID{}, stations[0])
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ElectionServiceSuite) TestDeactivateStation() {
	_, stations := s.seedStations(1)
	_, err := s.service.ActivateStations(s.ctx(), s.election, stations[0])
	s.Require().NoError(err)

	s.Run("removes the activation", func() {
		err := s.service.DeactivateStation(s.ctx(), s.election, stations[0][0])
		s.NoError(err)

		list, err := s.service.ListActiveStations(s.ctx(), s.election)
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("missing activation returns not found", func() {
		err := s.service.DeactivateStation(s.ctx(), s.election, stations[0][0])
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ElectionServiceSuite) TestListAndCount() {
	areaIDs, stations := s.seedStations(2, 3)
	all := append(append([]id.PollingStationID{}, stations[0]...), stations[1]...)
	n, err := s.service.ActivateStations(s.ctx(), s.election, all)
	s.Require().NoError(err)
	s.Require().Equal(5, n)

	s.Run("list returns every activation stamped with the request time", func() {
		list, err := s.service.ListActiveStations(s.ctx(), s.election)
		s.NoError(err)
		s.Require().Len(list, 5)
		for _, a := range list {
			s.Equal(s.election, a.ElectionID)
			s.Equal(s.now, a.ActivatedAt)
		}
	})

	s.Run("counts activations per electoral area", func() {
		count, err := s.service.CountActiveByArea(s.ctx(), s.election, areaIDs[0])
		s.NoError(err)
		s.Equal(2, count)

		count, err = s.service.CountActiveByArea(s.ctx(), s.election, areaIDs[1])
		s.NoError(err)
		s.Equal(3, count)
	})

	s.Run("other election counts zero", func() {
		count, err := s.service.CountActiveByArea(s.ctx(), id.ElectionID(uuid.New()), areaIDs[0])
		s.NoError(err)
		s.Equal(0, count)
	})
}

func (s *ElectionServiceSuite) TestMappedChildUnits() {
	areaIDs, stations := s.seedStations(2, 1)
	all := append(append([]id.PollingStationID{}, stations[0]...), stations[1]...)
	_, err := s.service.ActivateStations(s.ctx(), s.election, all)
	s.Require().NoError(err)

	s.Run("station units group under their electoral areas", func() {
		units, err := s.store.MappedChildUnits(context.Background(), s.election, id.LevelElectoralArea)
		s.NoError(err)
		s.Len(units, 2)
		s.Len(units[uuid.UUID(areaIDs[0])], 2)
		s.Len(units[uuid.UUID(areaIDs[1])], 1)
	})

	s.Run("area units group under their constituency", func() {
		units, err := s.store.MappedChildUnits(context.Background(), s.election, id.LevelConstituency)
		s.NoError(err)
		s.Require().Len(units, 1)
		for _, children := range units {
			s.Len(children, 2)
		}
	})

	s.Run("region units group under the organization", func() {
		units, err := s.store.MappedChildUnits(context.Background(), s.election, id.LevelNational)
		s.NoError(err)
		s.Require().Len(units, 1)
		children, ok := units[uuid.UUID(s.orgID)]
		s.True(ok)
		s.Len(children, 1)
	})
}
