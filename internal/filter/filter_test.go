package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycrew/chatrelay/internal/transport"
)

func TestAllMediaForwardsTextAndMedia(t *testing.T) {
	p := NewPolicy(true, false, nil, nil)

	assert.Equal(t, ForwardAsText, Decide(transport.Message{Kind: transport.KindTextOnly}, p))
	assert.Equal(t, ForwardAsMedia, Decide(transport.Message{Kind: transport.KindPhoto}, p))
	assert.Equal(t, Drop, Decide(transport.Message{Kind: transport.KindEmpty}, p))
}

func TestTextOnlyDropsMedia(t *testing.T) {
	p := NewPolicy(false, true, nil, nil)

	assert.Equal(t, ForwardAsText, Decide(transport.Message{Kind: transport.KindTextOnly}, p))
	assert.Equal(t, Drop, Decide(transport.Message{Kind: transport.KindPhoto}, p))
}

func TestPhotoForwardedWhenImagesClassOrExtensionSelected(t *testing.T) {
	byClass := NewPolicy(false, false, []MediaClass{ClassImages}, nil)
	assert.Equal(t, ForwardAsMedia, Decide(transport.Message{Kind: transport.KindPhoto}, byClass), "images class")

	byExt := NewPolicy(false, false, nil, []string{"PNG"})
	assert.Equal(t, ForwardAsMedia, Decide(transport.Message{Kind: transport.KindPhoto}, byExt), "png extension (case-insensitive)")

	neither := NewPolicy(false, false, []MediaClass{ClassVideos}, nil)
	assert.Equal(t, Drop, Decide(transport.Message{Kind: transport.KindPhoto}, neither), "videos-only policy should drop a photo")
}

func TestDocumentForwardedWhenClassOrExtensionMatches(t *testing.T) {
	policy := NewPolicy(false, false, []MediaClass{ClassVideos}, []string{"mp4"})

	bothMatch := transport.Message{Kind: transport.KindDocument, DocumentMIME: "video/mp4", DocumentExt: "mp4"}
	assert.Equal(t, ForwardAsMedia, Decide(bothMatch, policy), "class and extension both match")

	classOnlyMatch := transport.Message{Kind: transport.KindDocument, DocumentMIME: "video/mp4", DocumentExt: "mkv"}
	assert.Equal(t, ForwardAsMedia, Decide(classOnlyMatch, policy), "class match alone is sufficient even if the extension isn't in the policy")

	extOnlyMatch := transport.Message{Kind: transport.KindDocument, DocumentMIME: "audio/mpeg", DocumentExt: "mp4"}
	assert.Equal(t, ForwardAsMedia, Decide(extOnlyMatch, policy), "extension match alone is sufficient even if the MIME class isn't selected")

	neitherMatch := transport.Message{Kind: transport.KindDocument, DocumentMIME: "audio/mpeg", DocumentExt: "mkv"}
	assert.Equal(t, Drop, Decide(neitherMatch, policy), "neither class nor extension matches")
}

func TestDocumentClassOnlyPolicyForwardsWithoutExtensions(t *testing.T) {
	policy := NewPolicy(false, false, []MediaClass{ClassVideos}, nil)

	anyVideoExt := transport.Message{Kind: transport.KindDocument, DocumentMIME: "video/mp4", DocumentExt: "webm"}
	assert.Equal(t, ForwardAsMedia, Decide(anyVideoExt, policy), "a class-only policy forwards every document in that class regardless of extension")

	nonVideo := transport.Message{Kind: transport.KindDocument, DocumentMIME: "audio/mpeg", DocumentExt: "mp3"}
	assert.Equal(t, Drop, Decide(nonVideo, policy), "a class-only policy still drops documents outside the class")
}

func TestDocumentExtensionOnlyPolicyForwardsAcrossClasses(t *testing.T) {
	policy := NewPolicy(false, false, nil, []string{"mp4"})

	matchingExt := transport.Message{Kind: transport.KindDocument, DocumentMIME: "application/octet-stream", DocumentExt: "mp4"}
	assert.Equal(t, ForwardAsMedia, Decide(matchingExt, policy), "an extension-only policy forwards a matching extension regardless of MIME class")

	nonMatchingExt := transport.Message{Kind: transport.KindDocument, DocumentMIME: "video/mp4", DocumentExt: "mkv"}
	assert.Equal(t, Drop, Decide(nonMatchingExt, policy), "an extension-only policy still drops a non-matching extension")
}
