package vector

import (
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
)

// buildFilter translates search options into a conjunctive Qdrant filter.
// Returns nil when no filters are set.
func buildFilter(opts SearchOptions) *qdrant.Filter {
	var must []*qdrant.Condition

	if len(opts.SourceTypes) > 0 {
		keywords := make([]string, len(opts.SourceTypes))
		for i, st := range opts.SourceTypes {
			keywords[i] = string(st)
		}
		must = append(must, anyOf("source_type", keywords))
	}
	if len(opts.Components) > 0 {
		must = append(must, anyOf("component", opts.Components))
	}
	if len(opts.Services) > 0 {
		must = append(must, anyOf("service", opts.Services))
	}
	if len(opts.Tags) > 0 {
		must = append(must, anyOf("tags", opts.Tags))
	}
	if !opts.Since.IsZero() {
		must = append(must, qdrant.NewRange("timestamp", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(opts.Since.Unix())),
		}))
	}

	// Metadata filters address metadata.{key}; list values mean "any-of".
	// Sorted key order keeps the filter deterministic across runs.
	keys := make([]string, 0, len(opts.MetadataFilters))
	for k := range opts.MetadataFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field := "metadata." + k
		switch v := opts.MetadataFilters[k].(type) {
		case []string:
			must = append(must, anyOf(field, v))
		case []any:
			keywords := make([]string, 0, len(v))
			for _, item := range v {
				keywords = append(keywords, fmt.Sprintf("%v", item))
			}
			must = append(must, anyOf(field, keywords))
		case string:
			must = append(must, qdrant.NewMatch(field, v))
		case bool:
			must = append(must, qdrant.NewMatchBool(field, v))
		case int:
			must = append(must, qdrant.NewMatchInt(field, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(field, v))
		case float64:
			must = append(must, qdrant.NewMatchInt(field, int64(v)))
		default:
			must = append(must, qdrant.NewMatch(field, fmt.Sprintf("%v", v)))
		}
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func anyOf(field string, values []string) *qdrant.Condition {
	if len(values) == 1 {
		return qdrant.NewMatch(field, values[0])
	}
	return qdrant.NewMatchKeywords(field, values...)
}

// payloadToMap converts a Qdrant payload back into plain Go values, the
// inverse of qdrant.NewValueMap.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}
