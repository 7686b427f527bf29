// Package store persists the geographic hierarchy. PostgresStore is the
// store of record; InMemory backs unit tests and local tooling.
package store

import (
	"errors"

	"github.com/lib/pq"

	id "collate/pkg/domain"
)

// nodeTable maps a hierarchy level onto its table and parent column.
// Regions hang off the organization, everything else off the level above.
type nodeTable struct {
	table     string
	parentCol string
	hasVoters bool
}

var nodeTables = map[id.Level]nodeTable{
	id.LevelRegional:       {table: "regions", parentCol: "organization_id"},
	id.LevelConstituency:   {table: "constituencies", parentCol: "region_id"},
	id.LevelElectoralArea:  {table: "electoral_areas", parentCol: "constituency_id"},
	id.LevelPollingStation: {table: "polling_stations", parentCol: "electoral_area_id", hasVoters: true},
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
