package metadata

import (
	"encoding/json"
	"sort"
)

func encodeLookup(result *LookupResult) ([]byte, error) {
	return json.Marshal(result)
}

func decodeLookup(payload []byte) (*LookupResult, error) {
	var result LookupResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MergeTags flattens a lookup result into sorted-free genre and tag
// lists. Genres come from sources named "genres"; everything else is a
// tag. Duplicates collapse, first occurrence wins the position.
func MergeTags(result *LookupResult) (genres, tags []string) {
	if result == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	appendUnique := func(dst []string, values []string) []string {
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			dst = append(dst, v)
		}
		return dst
	}
	genres = appendUnique(genres, result.Sources["genres"])
	names := make([]string, 0, len(result.Sources))
	for name := range result.Sources {
		if name != "genres" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		tags = appendUnique(tags, result.Sources[name])
	}
	return genres, tags
}
