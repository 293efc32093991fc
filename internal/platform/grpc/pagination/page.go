// Package pagination normalizes list request paging fields.
package pagination

// Limits bounds a requested page size.
type Limits struct {
	Default int
	Max     int
}

// Size returns the page size to serve for requested. Zero or negative asks
// for the default; anything above Max is cut to Max. The result is at least 1.
func (l Limits) Size(requested int32) int {
	size := int(requested)
	if size <= 0 {
		size = l.Default
	}
	if l.Max > 0 && size > l.Max {
		size = l.Max
	}
	return max(size, 1)
}
