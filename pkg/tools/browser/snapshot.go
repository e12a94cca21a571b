package browser

import (
	"fmt"
	"strings"
)

const (
	refAttr          = "data-toolbelt-ref"
	maxSnapshotItems = 50
)

// snapshotScript tags every visible interactive element with a ref
// attribute and returns a compact description of each.
var snapshotScript = fmt.Sprintf(`() => {
  const attr = %q;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const sel = 'a[href], button, input:not([type=hidden]), select, textarea, summary, [role=button], [role=link], [role=checkbox], [role=tab], [role=menuitem], [contenteditable=true]';
  const out = [];
  let n = 0;
  for (const el of document.querySelectorAll(sel)) {
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    if (rect.width === 0 || rect.height === 0 || style.visibility === 'hidden' || style.display === 'none') continue;
    n++;
    const ref = 'e' + n;
    el.setAttribute(attr, ref);
    const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim().replace(/\s+/g, ' ');
    out.push({
      ref: ref,
      tag: el.tagName.toLowerCase(),
      role: el.getAttribute('role') || '',
      type: el.getAttribute('type') || '',
      text: text.slice(0, 80),
      placeholder: el.getAttribute('placeholder') || '',
      checked: el.type === 'checkbox' || el.type === 'radio' ? !!el.checked : el.getAttribute('aria-checked') === 'true',
    });
    if (n >= %d) break;
  }
  return out;
}`, refAttr, maxSnapshotItems)

// element is one interactive element reported by snapshotScript.
type element struct {
	Ref         string
	Tag         string
	Role        string
	Type        string
	Text        string
	Placeholder string
	Checked     bool
}

func (e element) kind() string {
	switch {
	case e.Role != "":
		return e.Role
	case e.Tag == "input" && (e.Type == "checkbox" || e.Type == "radio"):
		return e.Type
	case e.Tag == "input" && e.Type != "":
		return "input type=" + e.Type
	case e.Tag == "a":
		return "link"
	default:
		return e.Tag
	}
}

func (e element) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", e.Ref, e.kind())
	if e.Text != "" {
		fmt.Fprintf(&b, " %q", e.Text)
	}
	if e.Placeholder != "" {
		fmt.Fprintf(&b, " placeholder=%q", e.Placeholder)
	}
	if e.Checked {
		b.WriteString(" (checked)")
	}
	return b.String()
}

// parseElements converts the value returned by snapshotScript.
func parseElements(v interface{}) []element {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]element, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		e := element{
			Ref:         str(m["ref"]),
			Tag:         str(m["tag"]),
			Role:        str(m["role"]),
			Type:        str(m["type"]),
			Text:        str(m["text"]),
			Placeholder: str(m["placeholder"]),
		}
		e.Checked, _ = m["checked"].(bool)
		if e.Ref != "" {
			out = append(out, e)
		}
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func refSelector(ref string) string {
	return fmt.Sprintf("[%s=%q]", refAttr, ref)
}

func formatSnapshot(url, title string, elems []element) string {
	var b strings.Builder
	b.WriteString("[PAGE SNAPSHOT with refs]\n")
	fmt.Fprintf(&b, "URL: %s\n", url)
	fmt.Fprintf(&b, "Title: %s\n\n", title)
	if len(elems) == 0 {
		b.WriteString("(no interactive elements)")
		return b.String()
	}
	for i, e := range elems {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.String())
	}
	return b.String()
}
