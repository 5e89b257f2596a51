package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/jeffwalter-rum/vastclient/vast"
	"github.com/jeffwalter-rum/vastclient/vasterr"
)

// SupportedVersions are the VAST dialects the parser accepts.
var SupportedVersions = map[string]bool{
	"2.0": true,
	"3.0": true,
	"4.0": true,
	"4.1": true,
	"4.2": true,
}

// Config tunes a Parser.
type Config struct {
	// Strict fails fast on any XML syntax error and on missing required
	// fields. The default tolerant mode recovers what it can.
	Strict bool
	// RecoverOnError enables pre-sanitizing of common real-world damage
	// (naked ampersands, control characters) before decoding. It is
	// implied by tolerant mode and ignored when Strict is set.
	RecoverOnError bool
	// CustomPaths maps a name to a slash-separated element path evaluated
	// relative to the <Ad> element, e.g. "InLine/AdTitle". Matched text
	// lands in Ad.Extra under the name.
	CustomPaths map[string]string
}

// Parser converts VAST XML bytes into flat Ad records.
type Parser struct {
	cfg Config
}

// New returns a Parser. The zero Config is the tolerant default.
func New(cfg Config) *Parser {
	return &Parser{cfg: cfg}
}

var entityRef = regexp.MustCompile(`^&([a-zA-Z]{2,8}|#[0-9]{1,6}|#x[0-9a-fA-F]{1,5});`)

// sanitize repairs damage commonly seen in ad server output so the decoder
// can make progress in tolerant mode: control characters are dropped and
// ampersands that do not start an entity reference become &amp;.
func sanitize(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+16)
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			continue
		}
		if b == '&' && !entityRef.Match(raw[i:]) {
			out = append(out, "&amp;"...)
			continue
		}
		out = append(out, b)
	}
	return out
}

func (p *Parser) decoder(raw []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(raw))
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "", "utf-8", "utf8":
			return input, nil
		case "iso-8859-1", "latin1", "windows-1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		default:
			if p.cfg.Strict {
				return nil, fmt.Errorf("unsupported charset %q", charset)
			}
			return input, nil
		}
	}
	if !p.cfg.Strict {
		d.Strict = false
		d.AutoClose = xml.HTMLAutoClose
	}
	return d
}

// Parse decodes raw into an Ad record or a typed error. Wrapper documents
// come back with IsWrapper set; the orchestrator resolves the chain.
func (p *Parser) Parse(raw []byte) (*Ad, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, vasterr.New(vasterr.KindInvalidXML, "empty document")
	}
	if !p.cfg.Strict && p.cfg.RecoverOnError {
		raw = sanitize(raw)
	}

	var doc vast.VAST
	if err := p.decoder(raw).Decode(&doc); err != nil {
		if p.cfg.Strict {
			return nil, vasterr.Wrap(vasterr.KindInvalidXML, err, "decode VAST")
		}
		// One more try with repairs applied.
		raw = sanitize(raw)
		if err := p.decoder(raw).Decode(&doc); err != nil {
			return nil, vasterr.Wrap(vasterr.KindInvalidXML, err, "decode VAST")
		}
	}

	if !SupportedVersions[doc.Version] {
		return nil, vasterr.Newf(vasterr.KindUnsupportedVersion, "VAST version %q", doc.Version)
	}
	if len(doc.Ads) == 0 {
		return nil, vasterr.New(vasterr.KindMissingRequiredField, "document has no Ad element")
	}

	src := doc.Ads[0]
	var ad *Ad
	var err error
	switch {
	case src.Wrapper != nil:
		ad = p.fromWrapper(&doc, src.Wrapper)
	case src.InLine != nil:
		ad, err = p.fromInline(&doc, &src)
		if err != nil {
			return nil, err
		}
	default:
		return nil, vasterr.New(vasterr.KindMissingRequiredField, "Ad carries neither InLine nor Wrapper")
	}

	if len(p.cfg.CustomPaths) > 0 {
		ad.Extra = extractPaths(raw, p.cfg.CustomPaths)
	}
	return ad, nil
}

func (p *Parser) fromWrapper(doc *vast.VAST, w *vast.Wrapper) *Ad {
	ad := &Ad{
		Version:    doc.Version,
		IsWrapper:  true,
		WrapperURI: strings.TrimSpace(w.VASTAdTagURI.CDATA),
		Tracking:   make(map[string][]string),
	}
	if w.AdSystem != nil {
		ad.AdSystem = strings.TrimSpace(w.AdSystem.Name)
	}
	for _, imp := range w.Impressions {
		if u := strings.TrimSpace(imp.URI); u != "" {
			ad.Impressions = append(ad.Impressions, u)
		}
	}
	for _, e := range w.Errors {
		if u := strings.TrimSpace(e.CDATA); u != "" {
			ad.ErrorURLs = append(ad.ErrorURLs, u)
		}
	}
	if w.Creatives != nil {
		for _, c := range *w.Creatives {
			if c.Linear != nil && c.Linear.TrackingEvents != nil {
				collectTracking(ad.Tracking, *c.Linear.TrackingEvents, 0)
			}
		}
	}
	return ad
}

func (p *Parser) fromInline(doc *vast.VAST, src *vast.Ad) (*Ad, error) {
	in := src.InLine
	ad := &Ad{
		Version:  doc.Version,
		AdSystem: strings.TrimSpace(in.AdSystem.Name),
		AdTitle:  strings.TrimSpace(in.AdTitle),
		Tracking: make(map[string][]string),
	}
	for _, imp := range in.Impressions {
		if u := strings.TrimSpace(imp.URI); u != "" {
			ad.Impressions = append(ad.Impressions, u)
		}
	}
	if len(ad.Impressions) == 0 {
		return nil, vasterr.New(vasterr.KindMissingRequiredField, "inline ad without Impression")
	}
	for _, e := range in.Errors {
		if u := strings.TrimSpace(e.CDATA); u != "" {
			ad.ErrorURLs = append(ad.ErrorURLs, u)
		}
	}

	var linear *vast.Linear
	for i := range in.Creatives {
		c := &in.Creatives[i]
		if c.Linear == nil {
			continue
		}
		linear = c.Linear
		ad.CreativeID = c.ID
		break
	}
	if linear == nil {
		if p.cfg.Strict {
			return nil, vasterr.New(vasterr.KindMissingRequiredField, "inline ad without linear creative")
		}
		return ad, nil
	}

	ad.Duration = linear.Duration.Seconds()
	if linear.Duration == 0 && p.cfg.Strict {
		return nil, vasterr.New(vasterr.KindMissingRequiredField, "linear creative without Duration")
	}

	if linear.MediaFiles != nil {
		for _, mf := range *linear.MediaFiles {
			ad.MediaFiles = append(ad.MediaFiles, MediaFile{
				Type:     mf.Type,
				Width:    mf.Width,
				Height:   mf.Height,
				Bitrate:  mf.Bitrate,
				Codec:    mf.Codec,
				Delivery: mf.Delivery,
				URL:      strings.TrimSpace(mf.URI),
			})
		}
	}
	if linear.TrackingEvents != nil {
		collectTracking(ad.Tracking, *linear.TrackingEvents, ad.Duration)
	}
	return ad, nil
}

// collectTracking folds Tracking elements into the event map. Event names
// are lowercased; progress events are keyed progress-N with the offset
// resolved against the creative duration, so a negative offset of -5 on a
// 30 second creative lands at progress-25.
func collectTracking(into map[string][]string, events []vast.Tracking, durationSeconds int) {
	for _, t := range events {
		u := strings.TrimSpace(t.URI)
		if u == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(t.Event))
		if key == "progress" {
			if t.Offset == nil {
				continue
			}
			key = fmt.Sprintf("progress-%d", t.Offset.Seconds(durationSeconds))
		}
		into[key] = append(into[key], u)
	}
}

// extractPaths walks raw once, collecting the character data of every
// element whose path below <Ad> matches one of paths.
func extractPaths(raw []byte, paths map[string]string) map[string]string {
	d := xml.NewDecoder(bytes.NewReader(raw))
	d.Strict = false
	want := make(map[string]string, len(paths)) // path -> name
	for name, path := range paths {
		want[path] = name
	}

	out := make(map[string]string)
	var stack []string
	inAd := false
	var depthBelowAd int
	var current string

	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if t.Name.Local == "Ad" && !inAd {
				inAd = true
				depthBelowAd = len(stack)
				continue
			}
			if inAd && len(stack) > depthBelowAd {
				current = strings.Join(stack[depthBelowAd:], "/")
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if inAd && len(stack) < depthBelowAd {
				inAd = false
			}
			current = ""
		case xml.CharData:
			if current == "" {
				continue
			}
			if name, ok := want[current]; ok {
				if text := strings.TrimSpace(string(t)); text != "" {
					out[name] = text
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
