package parse

import (
	"sort"
	"strings"

	"github.com/jeffwalter-rum/vastclient/vasterr"
)

// SortKey selects the media file attribute used for ordering.
type SortKey string

const (
	SortByBitrate SortKey = "bitrate"
	SortByWidth   SortKey = "width"
	SortByHeight  SortKey = "height"
)

// SortOrder selects ascending or descending media ordering.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Filter is a declarative predicate over a parsed ad. Every set field must
// be satisfied by the same media file; unset fields (zero values) are
// skipped. A nil filter accepts everything.
type Filter struct {
	// AllowedTypes accepts media files whose MIME type is in the set.
	AllowedTypes []string
	// MinDuration and MaxDuration bound the creative duration in seconds.
	MinDuration int
	MaxDuration int
	// MinBitrate is the lowest acceptable bitrate in Kbps.
	MinBitrate int
	// MinWidth and MinHeight bound the pixel dimensions.
	MinWidth  int
	MinHeight int
	// Codec must appear as a substring of the media file codec.
	Codec string
	// Delivery requires an exact delivery mode ("progressive"/"streaming").
	Delivery string

	// SortBy orders the surviving media list; zero keeps document order.
	SortBy SortKey
	// Order is the sort direction; the default is ascending.
	Order SortOrder
	// Limit truncates the media list after sorting; zero keeps all.
	Limit int
}

// Accept reports whether ad passes the filter, returning a typed
// filter-rejected error otherwise.
func (f *Filter) Accept(ad *Ad) error {
	if f == nil {
		return nil
	}
	if f.MinDuration > 0 && ad.Duration < f.MinDuration {
		return vasterr.Newf(vasterr.KindFilterRejected, "duration %ds below minimum %ds", ad.Duration, f.MinDuration)
	}
	if f.MaxDuration > 0 && ad.Duration > f.MaxDuration {
		return vasterr.Newf(vasterr.KindFilterRejected, "duration %ds above maximum %ds", ad.Duration, f.MaxDuration)
	}
	for _, mf := range ad.MediaFiles {
		if f.matches(mf) {
			return nil
		}
	}
	return vasterr.New(vasterr.KindFilterRejected, "no media file satisfies the filter")
}

func (f *Filter) matches(mf MediaFile) bool {
	if len(f.AllowedTypes) > 0 && !containsString(f.AllowedTypes, mf.Type) {
		return false
	}
	if f.MinBitrate > 0 && mf.Bitrate < f.MinBitrate {
		return false
	}
	if f.MinWidth > 0 && mf.Width < f.MinWidth {
		return false
	}
	if f.MinHeight > 0 && mf.Height < f.MinHeight {
		return false
	}
	if f.Codec != "" && !strings.Contains(mf.Codec, f.Codec) {
		return false
	}
	if f.Delivery != "" && mf.Delivery != f.Delivery {
		return false
	}
	return true
}

// Apply sorts and truncates ad.MediaFiles per the filter's SortBy, Order
// and Limit. Ties keep document order.
func (f *Filter) Apply(ad *Ad) {
	if f == nil {
		return
	}
	if f.SortBy != "" {
		desc := f.Order == Descending
		sort.SliceStable(ad.MediaFiles, func(i, j int) bool {
			a, b := sortValue(ad.MediaFiles[i], f.SortBy), sortValue(ad.MediaFiles[j], f.SortBy)
			if desc {
				return a > b
			}
			return a < b
		})
	}
	if f.Limit > 0 && len(ad.MediaFiles) > f.Limit {
		ad.MediaFiles = ad.MediaFiles[:f.Limit]
	}
}

func sortValue(mf MediaFile, key SortKey) int {
	switch key {
	case SortByWidth:
		return mf.Width
	case SortByHeight:
		return mf.Height
	default:
		return mf.Bitrate
	}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
