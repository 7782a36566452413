package browser

import (
	"encoding/json"
	"fmt"
)

// jsPrelude contains the helpers shared by every in-page script: tag-indexed
// path computation, path resolution, and the same-origin frame walk. Every
// payload is an IIFE returning a JSON-serializable value so chromedp can
// unmarshal the result directly.
const jsPrelude = `
function __pathOf(el) {
	var parts = [];
	var node = el;
	while (node && node.nodeType === 1 && node.tagName.toLowerCase() !== 'html') {
		var tag = node.tagName.toLowerCase();
		var idx = 1;
		var sib = node.previousElementSibling;
		while (sib) {
			if (sib.tagName.toLowerCase() === tag) idx++;
			sib = sib.previousElementSibling;
		}
		parts.unshift(tag + '[' + idx + ']');
		node = node.parentElement;
	}
	parts.unshift('html');
	return parts.join('/');
}
function __byPath(doc, path) {
	var parts = path.split('/');
	if (parts[0] !== 'html') return null;
	var node = doc.documentElement;
	for (var i = 1; i < parts.length && node; i++) {
		var m = parts[i].match(/^([a-z0-9-]+)\[(\d+)\]$/);
		if (!m) return null;
		var tag = m[1], want = parseInt(m[2], 10), seen = 0, next = null;
		for (var j = 0; j < node.children.length; j++) {
			var ch = node.children[j];
			if (ch.tagName.toLowerCase() === tag) {
				seen++;
				if (seen === want) { next = ch; break; }
			}
		}
		node = next;
	}
	return node;
}
function __frameDoc(key) {
	if (!key) return document;
	var el = __byPath(document, key);
	if (!el) return null;
	try { return el.contentDocument; } catch (e) { return null; }
}
function __docs() {
	var out = [{key: '', doc: document}];
	var frames = document.getElementsByTagName('iframe');
	for (var i = 0; i < frames.length; i++) {
		var doc = null;
		try { doc = frames[i].contentDocument; } catch (e) { doc = null; }
		if (doc) out.push({key: __pathOf(frames[i]), doc: doc});
	}
	return out;
}
function __uniqueId(doc, el) {
	if (!el.id) return '';
	return doc.querySelectorAll('[id="' + el.id.replace(/"/g, '\\"') + '"]').length === 1 ? el.id : '';
}
`

// walkScript walks the top document and every reachable same-origin iframe,
// producing the raw signature input. Cross-origin frames are flagged but not
// descended into.
const walkScript = jsPrelude + `
(function() {
	var frames = [];
	var nodes = document.getElementsByTagName('iframe');
	for (var i = 0; i < nodes.length; i++) {
		var f = nodes[i];
		var sameOrigin = true;
		try { void f.contentDocument.location.href; } catch (e) { sameOrigin = false; }
		if (f.contentDocument === null) sameOrigin = false;
		frames.push({
			index: i,
			id: f.id || '',
			src: f.getAttribute('src') || '',
			path: __pathOf(f),
			sameOrigin: sameOrigin
		});
	}
	var body = document.body;
	var print = 't:' + (body ? (body.innerText || '').length : 0) +
		';e:' + document.getElementsByTagName('*').length;
	return {topUrl: location.href, docPrint: print, frames: frames};
})()
`

// fingerprintScript is the cheap DOM-stability probe: total text length plus
// element count. It intentionally ignores attribute churn.
const fingerprintScript = `
(function() {
	var body = document.body;
	return 't:' + (body ? (body.innerText || '').length : 0) +
		';e:' + document.getElementsByTagName('*').length;
})()
`

// bodyExistsScript reports whether a body element has materialized yet.
const bodyExistsScript = `(function() { return document.body !== null && document.body !== undefined; })()`

// discoverScript lists interactive elements across the top document and
// same-origin iframes, each with a structural locator and the semantic
// features used by equivalence scoring.
const discoverScript = jsPrelude + `
(function() {
	var out = [];
	var docs = __docs();
	for (var d = 0; d < docs.length; d++) {
		var doc = docs[d].doc, key = docs[d].key;
		var nodes = doc.querySelectorAll('a[href], button, input[type=button], input[type=submit], [onclick]');
		for (var i = 0; i < nodes.length; i++) {
			var el = nodes[i];
			var tag = el.tagName.toLowerCase();
			var kind = tag;
			if (tag !== 'a' && tag !== 'button' && tag !== 'input') kind = 'onclick';
			out.push({
				locator: {frame: key, id: __uniqueId(doc, el), path: __pathOf(el)},
				kind: kind,
				text: (el.innerText || el.value || '').trim().slice(0, 200),
				href: el.getAttribute ? (el.getAttribute('href') || '') : '',
				onclick: el.getAttribute ? (el.getAttribute('onclick') || '') : ''
			});
		}
	}
	return out;
})()
`

// clickScriptFor resolves the locator inside its frame and clicks the
// element; returns false when the element cannot be found.
func clickScriptFor(loc Locator) (string, error) {
	payload, err := json.Marshal(loc)
	if err != nil {
		return "", fmt.Errorf("encode locator: %w", err)
	}
	return jsPrelude + fmt.Sprintf(`
(function() {
	var loc = %s;
	var doc = __frameDoc(loc.frame || '');
	if (!doc) return false;
	var el = null;
	if (loc.id) el = doc.getElementById(loc.id);
	if (!el && loc.path) el = __byPath(doc, loc.path);
	if (!el) return false;
	el.click();
	return true;
})()
`, payload), nil
}

// fillScriptFor sets an input's value and fires the change event, used by the
// re-authentication flow.
func fillScriptFor(selector, value string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	val, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return fmt.Sprintf(`
(function() {
	var el = document.querySelector(%s);
	if (!el) return false;
	el.value = %s;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()
`, sel, val), nil
}
