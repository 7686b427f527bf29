package service

import (
	"strings"

	discmodels "collate/internal/discrepancy/models"
	discsvc "collate/internal/discrepancy/service"
	"collate/internal/resultsheet/models"
)

// Quality flags stamped on the sheet next to its score.
const (
	FlagVoteMismatch  = "vote_mismatch"
	FlagBallotCount   = "ballot_count_anomaly"
	FlagMissingWords  = "missing_words_crosscheck"
	FlagBallotsExceed = "ballots_exceed_issued"
)

const (
	fullScore            = 100
	voteMismatchPenalty  = 25
	ballotCountPenalty   = 15
	missingWordsPenalty  = 5
	ballotsExceedPenalty = 10
)

// scoreQuality grades the sheet from 100 down. Detector findings cost 25
// for a vote mismatch and 15 for a turnout anomaly. Missing words-and-figures
// cross checks cost 5 once, however many entries lack them. Casting more
// ballots than were issued costs 10. The score never goes below zero, and
// every deduction leaves a flag.
func scoreQuality(sheet *models.ResultSheet, entries []models.Entry, findings []discsvc.Finding) (int, []string) {
	score := fullScore
	var flags []string

	for _, finding := range findings {
		switch finding.Type {
		case discmodels.TypeVoteMismatch:
			score -= voteMismatchPenalty
			flags = append(flags, FlagVoteMismatch)
		case discmodels.TypeBallotCount:
			score -= ballotCountPenalty
			flags = append(flags, FlagBallotCount)
		}
	}

	for _, entry := range entries {
		if strings.TrimSpace(entry.VotesInWords) == "" {
			score -= missingWordsPenalty
			flags = append(flags, FlagMissingWords)
			break
		}
	}

	if sheet.BallotsCast > sheet.BallotsIssued {
		score -= ballotsExceedPenalty
		flags = append(flags, FlagBallotsExceed)
	}

	if score < 0 {
		score = 0
	}
	return score, flags
}

func sumVotes(entries []models.Entry) int64 {
	var sum int64
	for _, entry := range entries {
		sum += int64(entry.VotesInFigures)
	}
	return sum
}
