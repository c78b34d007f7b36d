// Package record defines the normalized entities extracted from racing pages.
//
// Every optional attribute is a pointer. A nil pointer is the only way a
// record says "not found"; empty strings never reach a sink.
package record

import (
	"strconv"
	"strings"
)

// Type names the kind of record handed to a sink.
type Type string

// Record types accepted by sinks.
const (
	TypeRaceEntry Type = "race_entry"
	TypeRanking   Type = "ranking"
	TypeArticle   Type = "article"
)

// Record is any normalized entity a sink can accept.
type Record interface {
	// RecordType reports which table or bucket the record belongs to.
	RecordType() Type
	// SourceURL is the page the record was extracted from.
	SourceURL() string
	// HasIdentity reports whether the record carries enough to be emitted.
	HasIdentity() bool
}

// RaceRecord is one entrant in one race.
type RaceRecord struct {
	Track            *string `json:"track"`
	RaceDate         *string `json:"race_date"`
	RaceNumber       *string `json:"race_number"`
	RaceTime         *string `json:"race_time"`
	RaceDistance     *string `json:"race_distance"`
	RaceRestrictions *string `json:"race_restrictions"`
	Purse            *string `json:"purse"`
	RaceWager        *string `json:"race_wager"`
	PostPosition     *string `json:"post_position"`
	HorseName        *string `json:"horse_name"`
	Sire             *string `json:"sire"`
	Age              *string `json:"age"`
	Sex              *string `json:"sex"`
	HRNPowerRanking  *string `json:"hrn_power_ranking"`
	SpeedFigure      *string `json:"speed_figure"`
	MorningLineOdds  *string `json:"morning_line_odds"`
	Trainer          *string `json:"trainer"`
	Jockey           *string `json:"jockey"`
	EntryURL         *string `json:"entry_url"`
}

// RecordType implements Record.
func (RaceRecord) RecordType() Type { return TypeRaceEntry }

// SourceURL implements Record.
func (r RaceRecord) SourceURL() string { return Value(r.EntryURL) }

// HasIdentity requires a horse name or a post position.
func (r RaceRecord) HasIdentity() bool { return r.HorseName != nil || r.PostPosition != nil }

// RankingRecord is one row of a power rankings page.
type RankingRecord struct {
	Rank          *int    `json:"hrn_ranking"`
	PowerRating   *string `json:"hrn_power_rating"`
	HorseName     *string `json:"horse_name"`
	HorseURL      *string `json:"horse_url"`
	Age           *string `json:"age"`
	Sex           *string `json:"sex"`
	Sire          *string `json:"sire"`
	Starts        *int    `json:"starts"`
	Wins          *int    `json:"wins"`
	Places        *int    `json:"places"`
	Shows         *int    `json:"shows"`
	Earnings      *string `json:"earnings"`
	LastRaceDate  *string `json:"last_race_date"`
	LastRaceTrack *string `json:"last_race_track"`
	NextRaceDate  *string `json:"next_race_date"`
	Trainer       *string `json:"trainer"`
	Jockey        *string `json:"jockey"`
	RankingDate   *string `json:"ranking_date"`
	URL           *string `json:"url"`
}

// RecordType implements Record.
func (RankingRecord) RecordType() Type { return TypeRanking }

// SourceURL implements Record.
func (r RankingRecord) SourceURL() string { return Value(r.URL) }

// HasIdentity requires a horse name or a rank.
func (r RankingRecord) HasIdentity() bool { return r.HorseName != nil || r.Rank != nil }

// ArticleRecord is one news article.
type ArticleRecord struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	PublicationDate *string `json:"publication_date"`
	Content         *string `json:"content"`
	Source          *string `json:"source"`
	URL             *string `json:"url"`
}

// RecordType implements Record.
func (ArticleRecord) RecordType() Type { return TypeArticle }

// SourceURL implements Record.
func (a ArticleRecord) SourceURL() string { return Value(a.URL) }

// HasIdentity requires a title.
func (a ArticleRecord) HasIdentity() bool { return a.Title != nil }

// Clean collapses runs of whitespace and trims the ends.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text returns nil for blank input and the cleaned value otherwise.
func Text(s string) *string {
	s = Clean(s)
	if s == "" {
		return nil
	}
	return &s
}

// Int returns a pointer to n.
func Int(n int) *int {
	return &n
}

// ParseInt returns nil unless s is a base-10 integer.
func ParseInt(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
