package internal

import (
	"fmt"
	"strconv"
	"strings"
)

// contentRangeUnit is the fixed prefix of a Content-Range value ("bytes ")
const contentRangeUnit = "bytes "

// Range is a partial-content window. End and Total are inclusive offset and
// resource size respectively, nil when unknown.
type Range struct {
	Start uint64  `json:"start"`
	End   *uint64 `json:"end,omitempty"`
	Total *uint64 `json:"total,omitempty"`
}

// FullRange denotes the entire resource, unconstrained
var FullRange = Range{}

// NewRange builds a range with a definite end
func NewRange(start, end uint64) Range {
	return Range{Start: start, End: &end}
}

// IsFull reports whether the range requests the whole resource
func (r Range) IsFull() bool {
	return r.Start == 0 && r.End == nil
}

// Length returns the number of bytes covered by the window, if bounded
func (r Range) Length() (uint64, bool) {
	if r.End == nil || *r.End < r.Start {
		return 0, false
	}
	return *r.End - r.Start + 1, true
}

// Header renders the outbound Range request header. ok is false for a full
// range, in which case no header should be sent.
func (r Range) Header() (value string, ok bool) {
	if r.IsFull() {
		return "", false
	}
	if r.End == nil {
		return fmt.Sprintf("bytes=%d-", r.Start), true
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, *r.End), true
}

// ContentRange renders the range as a Content-Range response value. ok is
// false when the window has no definite end.
func (r Range) ContentRange() (value string, ok bool) {
	if r.End == nil {
		return "", false
	}
	total := "*"
	if r.Total != nil {
		total = strconv.FormatUint(*r.Total, 10)
	}
	return fmt.Sprintf("bytes %d-%d/%s", r.Start, *r.End, total), true
}

func (r Range) String() string {
	end, total := "", "*"
	if r.End != nil {
		end = strconv.FormatUint(*r.End, 10)
	}
	if r.Total != nil {
		total = strconv.FormatUint(*r.Total, 10)
	}
	return fmt.Sprintf("%d-%s/%s", r.Start, end, total)
}

// ParseContentRange reads the backend's confirmation header
// ("bytes start-end/total"). The header is advisory: absent or malformed
// input degrades to a less specific range and never fails.
func ParseContentRange(value string, present bool) Range {
	if !present {
		return FullRange
	}
	if len(value) <= len(contentRangeUnit) {
		return FullRange
	}

	value = value[len(contentRangeUnit):]
	from, rest, _ := strings.Cut(value, "-")
	to, total, _ := strings.Cut(rest, "/")

	r := Range{}
	if start, err := strconv.ParseUint(from, 10, 64); err == nil {
		r.Start = start
	}
	if end, err := strconv.ParseUint(to, 10, 64); err == nil {
		r.End = &end
	}
	if size, err := strconv.ParseUint(total, 10, 64); err == nil {
		r.Total = &size
	}
	return r
}

// ParseRangeHeader parses an inbound "bytes=start-[end]" request header.
// An empty value is a full range. Suffix and multi-part ranges are rejected.
func ParseRangeHeader(value string) (Range, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return FullRange, nil
	}

	spec, ok := strings.CutPrefix(value, "bytes=")
	if !ok {
		return FullRange, NewValidationErrorWithValue("range", "unsupported range unit", value)
	}
	if strings.Contains(spec, ",") {
		return FullRange, NewValidationErrorWithValue("range", "multiple ranges are not supported", value)
	}

	from, to, ok := strings.Cut(spec, "-")
	if !ok || from == "" {
		return FullRange, NewValidationErrorWithValue("range", "range must have a start offset", value)
	}

	start, err := strconv.ParseUint(strings.TrimSpace(from), 10, 64)
	if err != nil {
		return FullRange, NewValidationErrorWithValue("range", "invalid start offset", value)
	}

	r := Range{Start: start}
	if to = strings.TrimSpace(to); to != "" {
		end, err := strconv.ParseUint(to, 10, 64)
		if err != nil {
			return FullRange, NewValidationErrorWithValue("range", "invalid end offset", value)
		}
		if end < start {
			return FullRange, NewValidationErrorWithValue("range", "end offset precedes start offset", value)
		}
		r.End = &end
	}
	return r, nil
}
