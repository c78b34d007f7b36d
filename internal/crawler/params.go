package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/racing-crawler/internal/navigate"
)

// Params are the caller's directives for one crawl.
type Params struct {
	Dates navigate.DateParams `json:"dates"`
	Pages navigate.PageParams `json:"pages"`
	// Region and StateBred narrow result searches on sites that support them.
	Region    string `json:"region,omitempty"`
	StateBred string `json:"state_bred,omitempty"`
}

// Validate checks every directive without fetching anything.
func (p Params) Validate(today time.Time) error {
	if err := p.Dates.Validate(today); err != nil {
		return err
	}
	if _, err := navigate.ResolvePagePlan(p.Pages, false); err != nil {
		return err
	}
	if sb := strings.ToLower(p.StateBred); sb != "" && sb != "true" && sb != "false" {
		return fmt.Errorf("state_bred must be true or false, got %q", p.StateBred)
	}
	return nil
}
