package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// OtherBucket collects models no bucket pattern matched.
const OtherBucket = "other"

// Bucket groups models into one logical provider allowance.
type Bucket struct {
	Name          string   `json:"name" mapstructure:"name"`
	Patterns      []string `json:"patterns" mapstructure:"patterns"`
	Limit         int      `json:"limit" mapstructure:"limit"`
	LimitPerModel int      `json:"limit_per_model" mapstructure:"limit_per_model"`
}

// BucketSummary is the usage of one bucket today.
type BucketSummary struct {
	Used          int            `json:"used"`
	Limit         int            `json:"limit"`
	LimitPerModel int            `json:"limitPerModel"`
	Models        map[string]int `json:"models"`
}

// Summarize aggregates snap's usage across keys into buckets. A model belongs
// to the first bucket with a pattern contained in its name, case-insensitively.
func Summarize(snap Snapshot, buckets []Bucket) map[string]BucketSummary {
	out := make(map[string]BucketSummary, len(buckets)+1)
	for _, b := range buckets {
		out[b.Name] = BucketSummary{Limit: b.Limit, LimitPerModel: b.LimitPerModel, Models: map[string]int{}}
	}

	perModel := make(map[string]int)
	for _, models := range snap.Usage {
		for model, n := range models {
			perModel[model] += n
		}
	}

	for model, n := range perModel {
		name := bucketFor(model, buckets)
		sum, ok := out[name]
		if !ok {
			sum = BucketSummary{Models: map[string]int{}}
		}
		sum.Used += n
		sum.Models[model] += n
		out[name] = sum
	}
	return out
}

func bucketFor(model string, buckets []Bucket) string {
	lower := strings.ToLower(model)
	for _, b := range buckets {
		for _, p := range b.Patterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return b.Name
			}
		}
	}
	return OtherBucket
}

// Summary aggregates today's usage into buckets.
func (l *Ledger) Summary(buckets []Bucket) map[string]BucketSummary {
	return Summarize(l.Snapshot(), buckets)
}

// FormatSummary renders a summary as aligned text lines, sorted by bucket.
func FormatSummary(summary map[string]BucketSummary) string {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		s := summary[name]
		limit := "-"
		if s.Limit > 0 {
			limit = fmt.Sprintf("%d", s.Limit)
		}
		fmt.Fprintf(&b, "%-12s used %d / %s\n", name, s.Used, limit)

		models := make([]string, 0, len(s.Models))
		for m := range s.Models {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			fmt.Fprintf(&b, "  %-30s %d\n", m, s.Models[m])
		}
	}
	return b.String()
}

// LoadSummary reads a store directly and summarizes it, without a live ledger.
// A snapshot from an earlier day reads as empty.
func LoadSummary(ctx context.Context, store Store, buckets []Bucket, today string) (map[string]BucketSummary, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Day != today {
		return Summarize(NewSnapshot(today), buckets), nil
	}
	snap.normalize()
	return Summarize(*snap, buckets), nil
}
