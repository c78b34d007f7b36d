package extract

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/JakeFAU/racing-crawler/internal/classify"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

// RaceContext carries race-level fields shared by every row of a card.
type RaceContext struct {
	Track            *string
	RaceDate         *string
	RaceNumber       *string
	RaceTime         *string
	RaceDistance     *string
	RaceRestrictions *string
	Purse            *string
	RaceWager        *string
	EntryURL         *string
}

// Apply fills fields the row itself left empty.
func (c RaceContext) Apply(r *record.RaceRecord) {
	fill(&r.Track, c.Track)
	fill(&r.RaceDate, c.RaceDate)
	fill(&r.RaceNumber, c.RaceNumber)
	fill(&r.RaceTime, c.RaceTime)
	fill(&r.RaceDistance, c.RaceDistance)
	fill(&r.RaceRestrictions, c.RaceRestrictions)
	fill(&r.Purse, c.Purse)
	fill(&r.RaceWager, c.RaceWager)
	fill(&r.EntryURL, c.EntryURL)
}

func fill(dst **string, src *string) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}

// RaceRow extracts a race entry from a row of a SUMMARY or DETAILED table.
// ok is false when the shape is not a race shape, the row is too short, or
// the result names neither a horse nor a post position.
func RaceRow(shape classify.Shape, row Row) (record.RaceRecord, bool) {
	switch shape {
	case classify.ShapeSummary:
		return Summary(row)
	case classify.ShapeDetailed:
		return Detailed(row)
	default:
		return record.RaceRecord{}, false
	}
}

// Summary reads the positional summary layout: race, HRN figure, horse,
// sire, then age/sex somewhere in the row.
func Summary(row Row) (record.RaceRecord, bool) {
	vals := texts(row.Cells)
	if len(vals) < 5 {
		return record.RaceRecord{}, false
	}
	rec := record.RaceRecord{
		RaceNumber:      record.Text(vals[0]),
		HRNPowerRanking: record.Text(vals[1]),
		HorseName:       record.Text(vals[2]),
		Sire:            record.Text(vals[3]),
	}
	if text, ok := Claim(vals, SlotAgeSex); ok {
		age, sex, _ := ParseAgeSex(text)
		rec.Age, rec.Sex = record.Text(age), record.Text(sex)
	}
	return rec, rec.HasIdentity()
}

// Detailed reads the card layout with horse/sire, trainer/jockey and odds
// columns. Columns are found by header or data-label first and by position
// otherwise.
func Detailed(row Row) (record.RaceRecord, bool) {
	cells := row.Cells
	if len(cells) < 3 {
		return record.RaceRecord{}, false
	}
	var rec record.RaceRecord

	horseIdx, ok := column(row, "horse")
	if !ok {
		horseIdx = 2
		if len(cells) == 3 {
			horseIdx = 1
		}
	}
	horse := cells[horseIdx]
	rec.HorseName = record.Text(horseName(horse))
	rec.Sire = record.Text(sireName(horse, record.Value(rec.HorseName)))
	if p, ok := ParsePower(horse.Text); ok {
		rec.HRNPowerRanking = record.Text(p)
	}
	if fig := strings.Trim(horse.Small, "()"); isDigits(fig) {
		rec.SpeedFigure = record.Text(fig)
	}

	rec.PostPosition = postPosition(row, rec.HorseName != nil)

	if text, ok := Claim(lines(cells), SlotAgeSex); ok {
		age, sex, _ := ParseAgeSex(text)
		rec.Age, rec.Sex = record.Text(age), record.Text(sex)
	}

	rec.Trainer, rec.Jockey = trainerJockey(row)
	rec.MorningLineOdds = odds(row)
	return rec, rec.HasIdentity()
}

// postPosition prefers a labelled column, then a numeric first cell. The row
// index is only trusted when the row already names a horse.
func postPosition(row Row, hasHorse bool) *string {
	if idx, ok := column(row, "post", "pp"); ok && isDigits(row.Cells[idx].Text) {
		return record.Text(row.Cells[idx].Text)
	}
	if first := row.Cells[0].Text; isDigits(first) {
		return record.Text(first)
	}
	if hasHorse && row.Index > 0 {
		return record.Text(strconv.Itoa(row.Index))
	}
	return nil
}

func horseName(c Cell) string {
	for _, l := range c.Links {
		if strings.Contains(strings.ToLower(l.Href), "horse") && l.Text != "" {
			return l.Text
		}
	}
	for _, line := range c.Lines {
		if isDigits(line) || len(line) <= 2 || strings.Contains(line, "(") {
			continue
		}
		return line
	}
	return ""
}

func sireName(c Cell, horse string) string {
	if len(c.Lines) < 2 {
		return ""
	}
	last := c.Lines[len(c.Lines)-1]
	if last == horse || len(last) <= 3 || strings.Contains(last, "(") || last == c.Small {
		return ""
	}
	return last
}

func trainerJockey(row Row) (trainer, jockey *string) {
	cells := row.Cells
	tIdx, tok := column(row, "trainer")
	jIdx, jok := column(row, "jockey")
	switch {
	case tok && jok && tIdx != jIdx:
		return firstName(cells[tIdx].Lines, 0), firstName(cells[jIdx].Lines, 0)
	case tok:
		return firstName(cells[tIdx].Lines, 0), firstName(cells[tIdx].Lines, 1)
	case jok:
		return nil, firstName(cells[jIdx].Lines, 0)
	case len(cells) > 3:
		return firstName(cells[3].Lines, 0), firstName(cells[3].Lines, 1)
	}
	return nil, nil
}

// firstName returns the nth line that looks like a person's name.
func firstName(lines []string, n int) *string {
	seen := 0
	for _, line := range lines {
		if !hasLetter(line) || len(line) < 2 {
			continue
		}
		if seen == n {
			return record.Text(line)
		}
		seen++
	}
	return nil
}

func odds(row Row) *string {
	idx, ok := column(row, "morning line", "odds", "ml", "m/l")
	if !ok {
		idx = len(row.Cells) - 1
	}
	text := row.Cells[idx].Text
	if !strings.ContainsAny(text, "0123456789") {
		return nil
	}
	if strings.Contains(text, "/") || strings.Contains(text, ".") {
		return record.Text(text)
	}
	return nil
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
