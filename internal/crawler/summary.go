package crawler

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/racing-crawler/internal/record"
)

// Summary reports what one run did.
type Summary struct {
	RunID         string              `json:"run_id"`
	Site          string              `json:"site"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	Targets       map[Outcome]int     `json:"targets"`
	Records       map[record.Type]int `json:"records"`
	Duplicates    int                 `json:"duplicates"`
	PersistErrors int                 `json:"persist_errors"`
	Unrecognized  int                 `json:"unrecognized_tables"`
	// NoTracksDates lists dates where no track produced entries.
	NoTracksDates []string `json:"no_tracks_dates,omitempty"`
	Cancelled     bool     `json:"cancelled"`
}

// RecordTotal sums acknowledged records across types.
func (s Summary) RecordTotal() int {
	n := 0
	for _, v := range s.Records {
		n += v
	}
	return n
}

// Failed counts targets that ended in timeout or error.
func (s Summary) Failed() int {
	return s.Targets[OutcomeTimeout] + s.Targets[OutcomeError]
}

// tally accumulates per-target results from concurrent goroutines.
type tally struct {
	mu            sync.Mutex
	targets       map[Outcome]int
	records       map[record.Type]int
	duplicates    int
	persistErrors int
	unrecognized  int
	noTracks      []string
}

func newTally() *tally {
	return &tally{
		targets: make(map[Outcome]int),
		records: make(map[record.Type]int),
	}
}

func (t *tally) addTarget(res targetResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[res.outcome]++
	for typ, n := range res.records {
		t.records[typ] += n
	}
	t.duplicates += res.duplicates
	t.persistErrors += res.persistErrors
	t.unrecognized += res.unrecognized
}

func (t *tally) addSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[OutcomeSkipped]++
}

func (t *tally) addNoTracks(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noTracks = append(t.noTracks, date)
}

func (t *tally) summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{
		Targets:       make(map[Outcome]int, len(t.targets)),
		Records:       make(map[record.Type]int, len(t.records)),
		Duplicates:    t.duplicates,
		PersistErrors: t.persistErrors,
		Unrecognized:  t.unrecognized,
		NoTracksDates: append([]string(nil), t.noTracks...),
	}
	for k, v := range t.targets {
		s.Targets[k] = v
	}
	for k, v := range t.records {
		s.Records[k] = v
	}
	sort.Strings(s.NoTracksDates)
	return s
}
