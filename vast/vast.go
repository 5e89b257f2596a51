// Package vast models the subset of IAB VAST 2.0-4.2 documents that the ad
// pipeline consumes https://iabtechlab.com/wp-content/uploads/2019/06/VAST_4.2_final_june26.pdf
package vast

// VAST is the root <VAST> tag
type VAST struct {
	// The version of the VAST spec ("2.0" through "4.2")
	Version string `xml:"version,attr" json:",omitempty"`
	// XML namespace. Most likely 'http://www.iab.com/VAST'
	XMLNS string `xml:"xmlns,attr,omitempty" json:"xmlns,omitempty"`
	// One or more Ad elements. Advertisers and video content publishers may
	// associate an <Ad> element with a line item video ad defined in contract
	// documentation, usually an insertion order.
	Ads []Ad `xml:"Ad,omitempty" json:"Ad,omitempty"`
	// Contains a URI to a tracking resource that the video player should request
	// upon receiving a "no ad" response
	Errors []CDATAString `xml:"Error,omitempty" json:",omitempty"`
}

// Ad represent an <Ad> child tag in a VAST document
//
// Each <Ad> contains a single <InLine> element or <Wrapper> element (but never both).
type Ad struct {
	InLine  *InLine  `xml:",omitempty" json:",omitempty"`
	Wrapper *Wrapper `xml:",omitempty" json:",omitempty"`
	// ID is an ad server-defined identifier string for the ad
	ID string `xml:"id,attr,omitempty" json:",omitempty"`
	// Sequence is a number greater than zero (0) that identifies the sequence
	// in which an ad should play; all <Ad> elements with sequence values are
	// part of a pod and are intended to be played in sequence
	Sequence int `xml:"sequence,attr,omitempty" json:",omitempty"`
}

// CDATAString
// Written as character data wrapped in one or more <![CDATA[ ... ]]> tags, not as an XML element.
type CDATAString struct {
	CDATA string `xml:",cdata" json:"Data"`
}

// InLine is a vast <InLine> ad element containing actual ad definition
// The last ad server in the ad supply chain serves an <InLine> element.
// Within the nested elements of an <InLine> element are all the files and
// URIs necessary to display the ad.
type InLine struct {
	// The name of the ad server that returned the ad
	AdSystem AdSystem
	// The common name of the ad
	AdTitle string
	// One or more URIs that directs the video player to a tracking resource file that the
	// video player should request when the first frame of the ad is displayed
	Impressions []Impression `xml:"Impression"`
	// Any ad server that returns a VAST containing an <InLine> ad must generate a pseudo-unique identifier
	// that is appropriate for all involved parties to track the lifecycle of that ad.
	AdServingId string `xml:",omitempty" json:",omitempty"`
	// A string value that provides a longer description of the ad.
	Description string `xml:",omitempty" json:",omitempty"`
	// A URI representing an error-tracking pixel; this element can occur multiple
	// times.
	Errors []CDATAString `xml:"Error,omitempty" json:"Error,omitempty"`
	// XML node for custom extensions, as defined by the ad server. When used, a
	// custom element should be nested under <Extensions> to help separate custom
	// XML elements from VAST elements.
	Extensions *[]Extension `xml:"Extensions>Extension,omitempty" json:",omitempty"`
	// The container for one or more <Creative> elements
	Creatives []Creative `xml:"Creatives>Creative"`
	// The number of seconds in which the ad is valid for execution.
	Expires *int `xml:",omitempty" json:",omitempty"`
}

// Impression is a URI that directs the video player to a tracking resource file that
// the video player should request when the first frame of the ad is displayed
type Impression struct {
	ID  string `xml:"id,attr,omitempty" json:",omitempty"`
	URI string `xml:",cdata"`
}

// Wrapper element contains a URI reference to a vendor ad server (often called
// a third party ad server). The destination ad server either provides the ad
// files within a VAST <InLine> ad element or may provide a secondary Wrapper
// ad, pointing to yet another ad server. Eventually, the final ad server in
// the ad supply chain must contain all the necessary files needed to display
// the ad.
type Wrapper struct {
	// One or more URIs that directs the video player to a tracking resource file that the
	// video player should request when the first frame of the ad is displayed
	Impressions  []Impression `xml:"Impression"`
	VASTAdTagURI CDATAString
	// The name of the ad server that returned the ad
	AdSystem *AdSystem
	// A URI representing an error-tracking pixel; this element can occur multiple
	// times.
	Errors []CDATAString `xml:"Error,omitempty" json:"Error,omitempty"`
	// XML node for custom extensions, as defined by the ad server.
	Extensions *[]Extension `xml:"Extensions>Extension,omitempty" json:",omitempty"`
	// The container for one or more <Creative> elements
	Creatives *[]CreativeWrapper `xml:"Creatives>Creative"`

	// Attributes

	// FollowAdditionalWrappers is a Boolean value that identifies whether subsequent Wrappers after a
	// requested VAST response is allowed. (default value is "true")
	FollowAdditionalWrappers *bool `xml:"followAdditionalWrappers,attr,omitempty" json:",omitempty"`
	// AllowMultipleAds is a Boolean value that identifies whether multiple ads are allowed in the
	// requested VAST response. Default value is "false."
	AllowMultipleAds *bool `xml:"allowMultipleAds,attr,omitempty" json:",omitempty"`
	// FallbackOnNoAd is a Boolean value that provides instruction for using an available Ad when the
	// requested VAST response returns no ads.
	FallbackOnNoAd *bool `xml:"fallbackOnNoAd,attr,omitempty" json:",omitempty"`
}

// AdSystem contains information about the system that returned the ad
type AdSystem struct {
	// Name is a string that provides the name of the ad server that returned the ad
	Name string `xml:",chardata"`
	// Version is a string that provides the version number of the ad system that returned the ad
	Version string `xml:"version,attr,omitempty" json:"Version,omitempty"`
}

// Creative is a file that is part of a VAST ad.
type Creative struct {
	// If present, provides a VAST 4.x universal ad id
	UniversalAdID []UniversalAdID `xml:"UniversalAdId"`
	// If present, defines a linear creative
	Linear *Linear `xml:",omitempty" json:",omitempty"`

	// Attributes

	// ID is an ad server-defined identifier for the creative
	ID string `xml:"id,attr,omitempty" json:",omitempty"`
	// Sequence is the preferred order in which multiple Creatives should be displayed
	Sequence int `xml:"sequence,attr,omitempty" json:",omitempty"`
	// AdID identifies the ad with which the creative is served
	AdID string `xml:"adId,attr,omitempty" json:",omitempty"`
	// APIFramework is the technology used for any included API
	APIFramework string `xml:"apiFramework,attr,omitempty" json:",omitempty"`
}

// CreativeWrapper defines wrapped creative's parent trackers
type CreativeWrapper struct {
	// An ad server-defined identifier for the creative
	ID string `xml:"id,attr,omitempty" json:",omitempty"`
	// The preferred order in which multiple Creatives should be displayed
	Sequence int `xml:"sequence,attr,omitempty" json:",omitempty"`
	// Identifies the ad with which the creative is served
	AdID string `xml:"adId,attr,omitempty" json:",omitempty"`
	// If present, defines a linear creative
	Linear *LinearWrapper `xml:",omitempty" json:",omitempty"`
}

// Linear is the most common type of video advertisement trafficked in the
// industry is a "linear ad", which is an ad that displays in the same area
// as the content but not at the same time as the content. In fact, the video
// player must interrupt the content before displaying a linear ad.
// Linear ads are often displayed right before the video content plays.
// This ad position is called a "pre-roll" position. For this reason, a linear
// ad is often called a "pre-roll."
type Linear struct {
	// Duration is a time value for the duration of the Linear ad in the format HH:MM:SS.mmm
	// (.mmm is optional and indicates milliseconds).
	Duration   Duration     `xml:"Duration,omitempty" json:",omitempty"`
	MediaFiles *[]MediaFile `xml:"MediaFiles>MediaFile,omitempty" json:",omitempty"`
	// AdParameters is the only way to pass information from the VAST response into the VPAID object;
	// no other mechanism is provided.
	AdParameters   *AdParameters `xml:",omitempty" json:",omitempty"`
	TrackingEvents *[]Tracking   `xml:"TrackingEvents>Tracking,omitempty" json:",omitempty"`
	VideoClicks    *VideoClicks  `xml:",omitempty" json:",omitempty"`

	// To specify that a Linear creative can be skipped, the ad server must
	// include the skipoffset attribute in the <Linear> element. The value
	// for skipoffset is a time value in the format HH:MM:SS or HH:MM:SS.mmm
	// or a percentage in the format n%.
	SkipOffset *Offset `xml:"skipoffset,attr,omitempty" json:",omitempty"`
}

// LinearWrapper defines a wrapped linear creative
type LinearWrapper struct {
	TrackingEvents *[]Tracking  `xml:"TrackingEvents>Tracking,omitempty" json:",omitempty"`
	VideoClicks    *VideoClicks `xml:",omitempty" json:",omitempty"`
}

// Tracking defines an event tracking URL
type Tracking struct {
	// The name of the event to track for the element. The creativeView should
	// always be requested when present.
	//
	// Possible values are creativeView, start, firstQuartile, midpoint, thirdQuartile,
	// complete, mute, unmute, pause, rewind, resume, fullscreen, exitFullscreen, expand,
	// collapse, acceptInvitation, close, skip, progress.
	Event string `xml:"event,attr"`
	// The time during the video at which this url should be pinged. Must be present for
	// progress event. Must match (\d{2}:[0-5]\d:[0-5]\d(\.\d\d\d)?|1?\d?\d(\.?\d)*%)
	Offset *Offset `xml:"offset,attr,omitempty" json:",omitempty"`
	URI    string  `xml:",cdata"`
}

// AdParameters defines arbitrary ad parameters
type AdParameters struct {
	// Specifies whether the parameters are XML-encoded
	XMLEncoded *bool  `xml:"xmlEncoded,attr,omitempty" json:",omitempty"`
	Parameters string `xml:",cdata"`
}

// VideoClicks contains types of video clicks
type VideoClicks struct {
	ClickTrackings []VideoClick `xml:"ClickTracking,omitempty" json:",omitempty"`
	CustomClicks   []VideoClick `xml:"CustomClick,omitempty" json:",omitempty"`
	ClickThroughs  []VideoClick `xml:"ClickThrough,omitempty" json:",omitempty"`
}

// VideoClick defines a click URL for a linear creative
type VideoClick struct {
	ID  string `xml:"id,attr,omitempty" json:",omitempty"`
	URI string `xml:",cdata"`
}

// MediaFile defines a reference to a linear creative asset
type MediaFile struct {
	// URI is a CDATA-wrapped URI to a media file.
	URI string `xml:",cdata"`

	// Attributes

	// Delivery is the method of delivery of ad (either "streaming" or "progressive")
	Delivery string `xml:"delivery,attr"`
	// Type is the MIME type. Popular MIME types include, but are not limited to
	// "video/mp4" and "video/webm". Image ads or interactive ads can be
	// included in the MediaFiles section with appropriate Mime types
	Type string `xml:"type,attr"`
	// Width is the pixel dimensions of video.
	Width int `xml:"width,attr"`
	// Height is the pixel dimensions of video.
	Height int `xml:"height,attr"`
	// Codec is the codec used to produce the media file.
	Codec string `xml:"codec,attr,omitempty" json:",omitempty"`
	// ID is an optional identifier
	ID string `xml:"id,attr,omitempty" json:",omitempty"`
	// Bitrate of encoded video in Kbps. If bitrate is supplied, MinBitrate
	// and MaxBitrate should not be supplied.
	Bitrate int `xml:"bitrate,attr,omitempty" json:",omitempty"`
	// MinBitrate is the minimum bitrate of an adaptive stream in Kbps.
	MinBitrate int `xml:"minBitrate,attr,omitempty" json:",omitempty"`
	// MaxBitrate is the maximum bitrate of an adaptive stream in Kbps.
	MaxBitrate int `xml:"maxBitrate,attr,omitempty" json:",omitempty"`
	// Scalable determines whether it is acceptable to scale the image.
	Scalable *bool `xml:"scalable,attr,omitempty" json:",omitempty"`
	// MaintainAspectRatio determines whether the ad must have its aspect ratio maintained when scales.
	MaintainAspectRatio *bool `xml:"maintainAspectRatio,attr,omitempty" json:",omitempty"`
	// APIFramework defines the method to use for communication if the MediaFile is interactive.
	APIFramework string `xml:"apiFramework,attr,omitempty" json:",omitempty"`
}

// UniversalAdID describes a VAST 4.x universal ad id.
type UniversalAdID struct {
	// ID is a string identifying the unique creative identifier. Default value is "unknown".
	ID string `xml:",chardata" json:"Data"`
	// IDRegistry is a string used to identify the URL for the registry website where the unique
	// creative ID is cataloged. Default value is "unknown."
	IDRegistry string `xml:"idRegistry,attr"`
}

// Extension represents arbitrary XML provided by the platform to extend the
// VAST response, identified by a type attribute.
type Extension struct {
	Type string `xml:"type,attr,omitempty" json:",omitempty"`
	Data []byte `xml:",innerxml" json:",omitempty"`
}
