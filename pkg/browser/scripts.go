package browser

import (
	"encoding/json"
	"fmt"
)

// findAndClickJS mirrors MatchText. It searches the main document and any
// same-origin iframes, texts first, then selectors.
const findAndClickJS = `(function(texts, selectors, viewportOnly, maxLabel) {
  const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
  const docs = [document];
  for (const f of document.querySelectorAll('iframe')) {
    try { if (f.contentDocument) docs.push(f.contentDocument); } catch (e) {}
  }
  const visible = el => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const view = el.ownerDocument.defaultView;
    const st = view.getComputedStyle(el);
    if (st.visibility === 'hidden' || st.display === 'none') return false;
    if (viewportOnly && (r.top > view.innerHeight || r.bottom < 0)) return false;
    return true;
  };
  const click = el => { el.scrollIntoView({block: 'center'}); el.click(); return true; };
  const clickable = 'button, a, [role="button"], input[type="button"], input[type="submit"]';
  const label = el => norm(el.innerText || el.value || el.getAttribute('aria-label') || '');
  for (const raw of texts) {
    const want = norm(raw);
    if (!want) continue;
    for (const doc of docs) {
      for (const el of doc.querySelectorAll(clickable)) {
        if (el.disabled || !visible(el)) continue;
        const text = label(el);
        if (!text) continue;
        if (text === want || ([...want].length > 2 && [...text].length <= maxLabel && text.includes(want))) {
          return click(el);
        }
      }
    }
  }
  for (const sel of selectors) {
    for (const doc of docs) {
      let el = null;
      try { el = doc.querySelector(sel); } catch (e) { continue; }
      if (el && visible(el)) return click(el);
    }
  }
  return false;
})(%s, %s, %t, %d)`

const scrollToBottomJS = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0); true`

// domStateJS reports readiness and element count, used to detect a settled DOM.
const domStateJS = `document.readyState + ':' + document.getElementsByTagName('*').length`

func findAndClickScript(t Target) (string, error) {
	texts, err := json.Marshal(nonNil(t.Texts))
	if err != nil {
		return "", err
	}
	selectors, err := json.Marshal(nonNil(t.Selectors))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(findAndClickJS, texts, selectors, t.FirstViewportOnly, maxLabelRunes), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
