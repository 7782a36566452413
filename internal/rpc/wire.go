package rpc

import (
	"github.com/trychlos/TheToolsProject-sub002/internal/browser"
	"github.com/trychlos/TheToolsProject-sub002/internal/capture"
)

// Request and answer payloads for each command. Empty payloads marshal to
// "{}" so every request line has the same two-part shape.

type navigateRequest struct {
	Path string `json:"path"`
}

type clickRequest struct {
	Locator browser.Locator `json:"locator"`
}

type clickAnswer struct {
	Found bool `json:"found"`
}

type findEquivalentRequest struct {
	Desc browser.Clickable `json:"desc"`
}

type findEquivalentAnswer struct {
	Locator browser.Locator `json:"locator"`
	Found   bool            `json:"found"`
}

type discoverAnswer struct {
	Clickables []browser.Clickable `json:"clickables"`
}

type signatureAnswer struct {
	Key      string `json:"key"`
	Stripped string `json:"stripped"`
}

type captureAnswer struct {
	Capture *capture.Capture `json:"capture"`
}

type screenshotAnswer struct {
	PNG []byte `json:"png"`
}

type pingAnswer struct {
	Pong bool   `json:"pong"`
	Side string `json:"side"`
}
