// Package filter implements the Message Filter: a pure, deterministic
// decision of whether and how to forward a message given a job's
// Filter Policy.
package filter

import (
	"strings"

	"github.com/relaycrew/chatrelay/internal/transport"
)

// Decision is the filter's verdict for a single message.
type Decision string

const (
	Drop           Decision = "drop"
	ForwardAsText  Decision = "forward-as-text"
	ForwardAsMedia Decision = "forward-as-media"
)

// MediaClass names a group of media MIME prefixes a Policy can select.
type MediaClass string

const (
	ClassImages    MediaClass = "images"
	ClassVideos    MediaClass = "videos"
	ClassAudio     MediaClass = "audio"
	ClassDocuments MediaClass = "documents"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

// Policy is one of: text-only, all-media (includes text), a set of
// named media classes, or a set of literal lowercase (no-dot) file
// extensions. AllMedia, TextOnly, and the class/extension sets are
// mutually exclusive in practice but represented independently so the
// zero value (drop everything) is unambiguous.
type Policy struct {
	AllMedia   bool
	TextOnly   bool
	Classes    map[MediaClass]bool
	Extensions map[string]bool // lowercase, no dot
}

// NewPolicy builds a Policy selecting the given media classes and
// literal extensions (both optional; pass nil for either to omit).
func NewPolicy(allMedia, textOnly bool, classes []MediaClass, extensions []string) Policy {
	p := Policy{AllMedia: allMedia, TextOnly: textOnly}
	if len(classes) > 0 {
		p.Classes = make(map[MediaClass]bool, len(classes))
		for _, c := range classes {
			p.Classes[c] = true
		}
	}
	if len(extensions) > 0 {
		p.Extensions = make(map[string]bool, len(extensions))
		for _, e := range extensions {
			p.Extensions[strings.ToLower(strings.TrimPrefix(e, "."))] = true
		}
	}
	return p
}

// Decide applies the decision table to msg under policy.
func Decide(msg transport.Message, policy Policy) Decision {
	if policy.AllMedia {
		switch msg.Kind {
		case transport.KindTextOnly:
			return ForwardAsText
		case transport.KindPhoto, transport.KindDocument:
			return ForwardAsMedia
		default:
			return Drop
		}
	}

	if policy.TextOnly {
		if msg.Kind == transport.KindTextOnly {
			return ForwardAsText
		}
		return Drop
	}

	switch msg.Kind {
	case transport.KindPhoto:
		if policy.Classes[ClassImages] || policy.hasAnyExtension(imageExtensions) {
			return ForwardAsMedia
		}
	case transport.KindDocument:
		if policy.documentMatches(msg) {
			return ForwardAsMedia
		}
	}
	return Drop
}

// hasAnyExtension reports whether policy.Extensions intersects candidates.
func (p Policy) hasAnyExtension(candidates map[string]bool) bool {
	for ext := range candidates {
		if p.Extensions[ext] {
			return true
		}
	}
	return false
}

// documentMatches implements the document branch of the decision
// table: a document forwards if its MIME falls in a class the policy
// selected (video/*, audio/*, application/*), OR its extension appears
// in the policy's explicit extension set. Class-match and
// extension-match are independent alternatives, not a joint
// requirement — a policy scoped to Classes:{videos} with no configured
// Extensions must still forward every video/* document.
func (p Policy) documentMatches(msg transport.Message) bool {
	if p.documentClassMatches(msg.DocumentMIME) {
		return true
	}
	return msg.DocumentExt != "" && p.Extensions[msg.DocumentExt]
}

func (p Policy) documentClassMatches(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return p.Classes[ClassVideos]
	case strings.HasPrefix(mime, "audio/"):
		return p.Classes[ClassAudio]
	case strings.HasPrefix(mime, "application/"):
		return p.Classes[ClassDocuments]
	default:
		return false
	}
}
