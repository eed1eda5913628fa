// Package citations converts Deep Research citation markers into HTML
// superscript references and builds the url->title registry used for
// numbered source lists.
package citations

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// markerPattern matches inline markers like 【78:12†source】. Only the
	// citation index (second number) is meaningful downstream; the group
	// index and source tag are discarded.
	markerPattern = regexp.MustCompile(`\x{3010}\d+:(\d+)\x{2020}\w+\x{3011}`)

	// runPattern matches a maximal run of two or more superscript spans
	// separated by optional whitespace and/or a single comma, e.g.
	// <sup>5</sup>,<sup>4</sup> or <sup>5</sup> <sup>4</sup>. A span may
	// already hold a comma-separated list from an earlier consolidation.
	runPattern = regexp.MustCompile(`(<sup>[\d,]+</sup>)(\s*,?\s*<sup>[\d,]+</sup>)+`)

	// spanDigits extracts the integers embedded in a run of spans.
	spanDigits = regexp.MustCompile(`\d+`)
)

// Normalize rewrites citation markers in text as consolidated superscript
// references. It runs in two passes: every marker is first replaced by a
// single-index <sup> span, then adjacent spans are merged into one span with
// their indices deduplicated and sorted ascending. Text without markers is
// returned unchanged; malformed or partial markers fail the pattern and are
// left as literal text.
func Normalize(text string) string {
	tracer := otel.Tracer("deepresearch/citations")
	_, span := tracer.Start(context.Background(), "citations.normalize")
	defer span.End()
	span.SetAttributes(attribute.Int("input.content_length", len(text)))

	markers := 0
	converted := markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		markers++
		idx := markerPattern.FindStringSubmatch(m)[1]
		return "<sup>" + idx + "</sup>"
	})
	span.SetAttributes(attribute.Int("citations.marker_count", markers))

	// Consolidation has to run over the converted text: markers that were
	// separated only by punctuation in the source become adjacent spans
	// after replacement.
	out := runPattern.ReplaceAllStringFunc(converted, consolidateRun)
	span.SetAttributes(attribute.Int("output.content_length", len(out)))
	return out
}

// CountMarkers returns the number of citation markers present in text.
func CountMarkers(text string) int {
	return len(markerPattern.FindAllString(text, -1))
}

// consolidateRun merges one run of adjacent superscript spans into a single
// span with unique, ascending indices.
func consolidateRun(run string) string {
	seen := make(map[int]struct{})
	for _, m := range spanDigits.FindAllString(run, -1) {
		if n, err := strconv.Atoi(m); err == nil {
			seen[n] = struct{}{}
		}
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return "<sup>" + strings.Join(parts, ",") + "</sup>"
}
