// Package classify resolves which outlet or channel an incident report came
// from by matching its title and source url against a tiered rule table.
package classify

import (
	"runtime"
	"strings"

	"github.com/nitesh/incident_map/pkg/models"
	"golang.org/x/sync/errgroup"
)

// batchChunk is the number of events classified per goroutine.
const batchChunk = 512

// Classify returns the id of the first enabled rule whose patterns occur in
// title or sourceURL, evaluating tiers in priority order. Disabled rules are
// skipped as if absent. Returns Unknown when nothing matches.
func Classify(title, sourceURL string, rules *RuleSet) string {
	if rules == nil {
		return Unknown
	}
	title = strings.ToLower(title)
	sourceURL = strings.ToLower(sourceURL)
	for t := range rules.tiers {
		for _, r := range rules.tiers[t] {
			if !r.Enabled {
				continue
			}
			for _, p := range r.Patterns {
				if strings.Contains(title, p) || strings.Contains(sourceURL, p) {
					return r.ID
				}
			}
		}
	}
	return Unknown
}

// ClassifyBatch tags every event with its source id. Output order matches
// input order. Large batches are split across goroutines; each event's result
// depends only on its own title and url.
func ClassifyBatch(events []models.RawEvent, rules *RuleSet) ([]models.ClassifiedEvent, error) {
	if rules == nil {
		return nil, models.InvalidRuleSet("", "no rule set supplied")
	}
	out := make([]models.ClassifiedEvent, len(events))
	if len(events) <= batchChunk {
		classifyRange(events, out, rules)
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(events); start += batchChunk {
		end := min(start+batchChunk, len(events))
		in, dst := events[start:end], out[start:end]
		g.Go(func() error {
			classifyRange(in, dst, rules)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func classifyRange(in []models.RawEvent, out []models.ClassifiedEvent, rules *RuleSet) {
	for i := range in {
		out[i] = models.ClassifiedEvent{
			RawEvent: in[i],
			SourceID: Classify(in[i].Title, in[i].URL(), rules),
		}
	}
}
