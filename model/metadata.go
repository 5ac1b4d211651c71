package model

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

// ultralytics exports names as a python dict literal: {0: 'acne', 1: 'eczema'}
var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*['"]([^'"]*)['"]`)

// maxClassIndex bounds the names slice; larger indices are ignored.
const maxClassIndex = 4096

// ReadClassNames returns the class names embedded in the model's "names"
// custom metadata, or nil when the key is absent.
func ReadClassNames(path string) ([]string, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer md.Destroy()

	raw, ok, err := md.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, fmt.Errorf("failed to look up names metadata: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return ParseClassNames(raw), nil
}

// ParseClassNames parses an index to name mapping. Gaps in the indices are
// filled with empty names so that position equals class index. Entries above
// maxClassIndex are dropped.
func ParseClassNames(raw string) []string {
	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	byIndex := make(map[int]string, len(matches))
	indices := make([]int, 0, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx > maxClassIndex {
			continue
		}
		if _, dup := byIndex[idx]; !dup {
			indices = append(indices, idx)
		}
		byIndex[idx] = m[2]
	}
	if len(indices) == 0 {
		return nil
	}
	sort.Ints(indices)

	names := make([]string, indices[len(indices)-1]+1)
	for idx, name := range byIndex {
		names[idx] = name
	}
	return names
}
