package extract

import (
	"strings"

	"github.com/JakeFAU/racing-crawler/internal/record"
)

// Ranking reads one power rankings row: rank, rating, horse (with sire in the
// same cell), then content-recognized age/sex, record, earnings and last race.
func Ranking(row Row) (record.RankingRecord, bool) {
	cells := row.Cells
	if len(cells) < 3 {
		return record.RankingRecord{}, false
	}
	var rec record.RankingRecord

	if p, ok := ParsePower(cells[1].Text); ok {
		rec.PowerRating = record.Text(p)
	} else if rating := cells[1].Text; isDigits(rating) || strings.Contains(rating, "*") {
		rec.PowerRating = record.Text(rating)
	}

	horseIdx := rankingHorseColumn(cells)
	horse := cells[horseIdx]
	name, href := horseLink(horse)
	rec.HorseName = record.Text(name)
	rec.HorseURL = record.Text(href)
	rec.Sire = record.Text(rankingSire(horse, name))

	rest := make([]Cell, 0, len(cells))
	for i, c := range cells {
		if i > 1 && i != horseIdx {
			rest = append(rest, c)
		}
	}
	found := lines(rest)
	last, next := found, []string(nil)
	for i, line := range found {
		if strings.Contains(strings.ToLower(line), "next") {
			last, next = found[:i], found[i:]
			break
		}
	}
	if text, ok := Claim(found, SlotAgeSex); ok {
		age, sex, _ := ParseAgeSex(text)
		rec.Age, rec.Sex = record.Text(age), record.Text(sex)
	}
	if text, ok := Claim(found, SlotRecord); ok {
		counts, _ := ParseRecord(text)
		rec.Starts = record.Int(counts.Starts)
		rec.Wins = record.Int(counts.Wins)
		rec.Places = record.Int(counts.Places)
		rec.Shows = record.Int(counts.Shows)
	}
	if text, ok := Claim(found, SlotEarnings); ok {
		rec.Earnings = record.Text(text)
	}
	if text, ok := Claim(last, SlotDate); ok {
		rec.LastRaceDate = record.Text(text)
	}
	if text, ok := Claim(last, SlotTrack); ok {
		rec.LastRaceTrack = record.Text(text)
	}
	if text, ok := Claim(next, SlotDate); ok {
		rec.NextRaceDate = record.Text(text)
	}
	if len(cells) > 5 {
		rec.Trainer, rec.Jockey = connections(cells[5])
	}
	if rank, ok := rankNumber(cells[0].Text, row.Index, rec.HorseName != nil); ok {
		rec.Rank = record.Int(rank)
	}
	return rec, rec.HasIdentity()
}

// rankNumber reads a digit-only rank cell, falling back to the row number
// only for rows that name a horse.
func rankNumber(text string, index int, hasHorse bool) (int, bool) {
	if isDigits(text) {
		if n := record.ParseInt(text); n != nil {
			return *n, true
		}
	}
	if hasHorse && index > 0 {
		return index, true
	}
	return 0, false
}

func rankingHorseColumn(cells []Cell) int {
	for i, c := range cells {
		for _, l := range c.Links {
			href := strings.ToLower(l.Href)
			if strings.Contains(href, "horse") || strings.Contains(href, "profile") {
				return i
			}
		}
	}
	return 2
}

func horseLink(c Cell) (name, href string) {
	for _, l := range c.Links {
		lower := strings.ToLower(l.Href)
		if (strings.Contains(lower, "horse") || strings.Contains(lower, "profile")) && l.Text != "" {
			return l.Text, l.Href
		}
	}
	return horseName(c), ""
}

func rankingSire(c Cell, horse string) string {
	for _, line := range c.Lines {
		if line == horse || len(line) <= 3 || strings.Contains(line, "(") {
			continue
		}
		if _, claimed := Identify(line); claimed {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "by "))
	}
	return ""
}

// connections reads trainer and jockey from one cell, preferring profile
// links and falling back to two-word names in order.
func connections(c Cell) (trainer, jockey *string) {
	for _, l := range c.Links {
		lower := strings.ToLower(l.Href)
		switch {
		case strings.Contains(lower, "trainer") && trainer == nil:
			trainer = record.Text(l.Text)
		case strings.Contains(lower, "jockey") && jockey == nil:
			jockey = record.Text(l.Text)
		}
	}
	if trainer != nil || jockey != nil {
		return trainer, jockey
	}
	var names []string
	for _, line := range c.Lines {
		if len(strings.Fields(line)) >= 2 && hasLetter(line) {
			names = append(names, line)
		}
	}
	if len(names) > 0 {
		trainer = record.Text(names[0])
	}
	if len(names) > 1 {
		jockey = record.Text(names[1])
	}
	return trainer, jockey
}
