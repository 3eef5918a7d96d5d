package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"warden/internal/extract"
)

type pathValue struct {
	value any
	path  string
	key   string
	level int
}

// walkStructured visits every object key and scalar value of tree with its
// JSON path, using an explicit stack. Map keys are visited in sorted order
// so visits come out in a stable field order. A key is visited under its
// child's path with a "#key" suffix, just before the child's value.
func walkStructured(ctx context.Context, tree any, maxDepth int, visit func(location, text string)) error {
	stack := []pathValue{{value: tree, path: "$"}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if item.level > maxDepth {
			return &LimitError{Location: item.path, Limit: maxDepth}
		}
		if item.key != "" {
			visit(item.path+"#key", item.key)
		}

		switch v := item.value.(type) {
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i := len(keys) - 1; i >= 0; i-- {
				stack = append(stack, pathValue{value: v[keys[i]], path: item.path + "." + keys[i], key: keys[i], level: item.level + 1})
			}
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, pathValue{value: v[i], path: fmt.Sprintf("%s[%d]", item.path, i), level: item.level + 1})
			}
		case string:
			visit(item.path, v)
		case json.Number:
			visit(item.path, v.String())
		case nil, bool:
		default:
			visit(item.path, fmt.Sprint(v))
		}
	}
	return nil
}

// textSegments returns the segments the pattern detectors scan. A JSON
// source contributes its decoded keys and values, addressed by JSON path,
// in place of the compacted visible text, so string escapes are resolved
// before matching. The walk stops at the structured depth limit, which
// PIIDetector reports.
func textSegments(ctx context.Context, scope *Scope) ([]extract.Segment, error) {
	doc := scope.Doc
	segs := doc.Segments()
	if doc.Structured == nil {
		return segs, nil
	}
	out := make([]extract.Segment, 0, len(segs))
	for _, seg := range segs {
		if seg.Location != extract.LocVisible {
			out = append(out, seg)
			continue
		}
		err := walkStructured(ctx, doc.Structured, scope.Policy.MaxStructuredDepth, func(location, text string) {
			out = append(out, extract.Segment{Location: location, Text: text})
		})
		var limit *LimitError
		if err != nil && !errors.As(err, &limit) {
			return nil, err
		}
	}
	return out, nil
}

// visibleLocation reports whether location addresses the rendered body of a
// document: the visible text or a value inside a JSON source.
func visibleLocation(location string) bool {
	return location == extract.LocVisible || strings.HasPrefix(location, "$")
}
