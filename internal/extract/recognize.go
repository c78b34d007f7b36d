package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Slot names a field that is located by what a cell's text looks like rather
// than by where the cell sits.
type Slot int

// Slots in registration order.
const (
	SlotAgeSex Slot = iota
	SlotPower
	SlotRecord
	SlotEarnings
	SlotDate
	SlotTrack
)

var slotNames = map[Slot]string{
	SlotAgeSex:   "age_sex",
	SlotPower:    "power",
	SlotRecord:   "record",
	SlotEarnings: "earnings",
	SlotDate:     "date",
	SlotTrack:    "track",
}

func (s Slot) String() string {
	if name, ok := slotNames[s]; ok {
		return name
	}
	return "slot(" + strconv.Itoa(int(s)) + ")"
}

var (
	ageSexPattern    = regexp.MustCompile(`^(\d+)([A-Za-z])$`)
	powerPattern     = regexp.MustCompile(`\((\d+\*?)\)`)
	recordPattern    = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)$`)
	numericDate      = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}`)
	trackCodePattern = regexp.MustCompile(`^[A-Z]{3,6}$`)
	digitsPattern    = regexp.MustCompile(`^\d+$`)
)

var monthNames = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

type recognizer struct {
	slot  Slot
	match func(string) bool
}

// recognizers is ordered. A text matching several recognizers belongs to the
// first one listed, so "12-4-2" is a record and never a date.
var recognizers = []recognizer{
	{slot: SlotAgeSex, match: ageSexPattern.MatchString},
	{slot: SlotPower, match: powerPattern.MatchString},
	{slot: SlotRecord, match: recordPattern.MatchString},
	{slot: SlotEarnings, match: isEarnings},
	{slot: SlotDate, match: isDateLike},
	{slot: SlotTrack, match: trackCodePattern.MatchString},
}

// Identify returns the slot owning text, if any.
func Identify(text string) (Slot, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	for _, r := range recognizers {
		if r.match(text) {
			return r.slot, true
		}
	}
	return 0, false
}

// Claim returns the first text owned by slot. Claiming does not consume the
// text; other lookups may still read it.
func Claim(texts []string, slot Slot) (string, bool) {
	for _, text := range texts {
		if owner, ok := Identify(text); ok && owner == slot {
			return strings.TrimSpace(text), true
		}
	}
	return "", false
}

// ParseAgeSex splits "5G" into age "5" and sex "G".
func ParseAgeSex(text string) (age, sex string, ok bool) {
	m := ageSexPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.ToUpper(m[2]), true
}

// ParsePower returns the parenthesized power figure, e.g. "113*" from "(113*)".
func ParsePower(text string) (string, bool) {
	m := powerPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RaceRecordCounts is a wins-places-shows tally.
type RaceRecordCounts struct {
	Starts, Wins, Places, Shows int
}

// ParseRecord reads "W-P-S". Starts is the sum of the three.
func ParseRecord(text string) (RaceRecordCounts, bool) {
	m := recordPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return RaceRecordCounts{}, false
	}
	w, _ := strconv.Atoi(m[1])
	p, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return RaceRecordCounts{Starts: w + p + s, Wins: w, Places: p, Shows: s}, true
}

func isEarnings(text string) bool {
	if strings.Contains(text, "$") {
		return true
	}
	stripped := strings.NewReplacer(",", "", ".", "").Replace(text)
	return len(stripped) > 5 && digitsPattern.MatchString(stripped)
}

func isDateLike(text string) bool {
	if numericDate.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, m := range monthNames {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isDigits(text string) bool {
	return digitsPattern.MatchString(text)
}
