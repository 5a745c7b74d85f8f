package sources

import (
	"fmt"
	"strings"

	"github.com/lysyi3m/news-comb/app/item"
)

var filterFields = map[string]bool{
	"title":      true,
	"body":       true,
	"url":        true,
	"authors":    true,
	"categories": true,
}

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Check reports whether the record is filtered out by the source's rules,
// and why.
func (f *Filterer) Check(record item.RawRecord, sourceConfig *Config) (bool, string) {
	if sourceConfig == nil {
		return false, ""
	}

	for _, filter := range sourceConfig.Filters {
		value := f.getFieldValue(record, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(record item.RawRecord, field string) string {
	switch field {
	case "title":
		return record.Title
	case "body":
		return record.Body
	case "url":
		return record.URL
	case "authors":
		return strings.Join(record.Authors, " ")
	case "categories":
		return strings.Join(record.Categories, " ")
	default:
		return ""
	}
}
