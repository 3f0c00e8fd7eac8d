// Package editor describes the editing services the host integrates with and
// how their action URLs are built from discovery templates.
package editor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp-forge/wopihost/pkg/discovery"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
)

// Kind identifies an editing service.
type Kind string

const (
	// Office is Microsoft Office Online.
	Office Kind = "office"

	// Collabora is Collabora Online.
	Collabora Kind = "collabora"
)

// Kinds lists every supported Kind.
var Kinds = []Kind{Office, Collabora}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case Office, Collabora:
		return k, nil
	default:
		return "", fmt.Errorf("unknown editor kind %q", s)
	}
}

func (k Kind) String() string { return string(k) }

// placeholder matches the optional query fragments of an Office URL
// template, such as "<ui=UI_LLCC&>".
var placeholder = regexp.MustCompile(`<([A-Za-z0-9_]+)=([A-Z_]+)&?>`)

// ActionURL expands an action URL template for a file served at wopiSrc.
// Office templates have their locale placeholders filled with locale and all
// other placeholders removed. Collabora templates take the locale as "lang".
func (k Kind) ActionURL(urlsrc, wopiSrc, locale string) string {
	var b strings.Builder

	switch k {
	case Office:
		b.WriteString(placeholder.ReplaceAllStringFunc(urlsrc, func(m string) string {
			parts := placeholder.FindStringSubmatch(m)
			switch parts[2] {
			case "UI_LLCC", "DC_LLCC":
				if locale == "" {
					return ""
				}
				return parts[1] + "=" + url.QueryEscape(locale) + "&"
			default:
				return ""
			}
		}))
	default:
		b.WriteString(placeholder.ReplaceAllString(urlsrc, ""))
		if locale != "" {
			appendSeparator(&b)
			b.WriteString("lang=" + url.QueryEscape(locale))
		}
	}

	appendSeparator(&b)
	b.WriteString("WOPISrc=" + url.QueryEscape(wopiSrc))
	return b.String()
}

func appendSeparator(b *strings.Builder) {
	s := b.String()
	switch {
	case !strings.Contains(s, "?"):
		b.WriteByte('?')
	case strings.HasSuffix(s, "?"), strings.HasSuffix(s, "&"):
	default:
		b.WriteByte('&')
	}
}

// Editor is one configured editing service.
type Editor struct {
	Kind      Kind
	Discovery *discovery.Cache

	// Locale is passed to the editor's UI, e.g. "en-US". Empty leaves the
	// editor default.
	Locale string
}

// Action returns the named action for ext from the latest discovery data.
func (e *Editor) Action(ext, name string) (discovery.Action, bool) {
	a, ok := e.Discovery.ActionsForExtension(ext)[name]
	return a, ok
}

// ActionURL returns the launch URL of the named action for a file with
// extension ext served at wopiSrc.
func (e *Editor) ActionURL(ext, name, wopiSrc string) (string, bool) {
	a, ok := e.Action(ext, name)
	if !ok {
		return "", false
	}
	return e.Kind.ActionURL(a.URLSrc, wopiSrc, e.Locale), true
}

// FavIconURL returns the favicon of the default app for ext, if any.
func (e *Editor) FavIconURL(ext string) string {
	if app, ok := e.Discovery.SupportedExtensions()[discovery.NormalizeExt(ext)]; ok {
		return app.FavIconURL
	}
	return ""
}

// Registry holds the configured editors.
type Registry struct {
	editors map[Kind]*Editor
	order   []Kind
}

// NewRegistry returns a Registry of editors. A later editor of the same kind
// replaces an earlier one.
func NewRegistry(editors ...*Editor) *Registry {
	r := &Registry{editors: make(map[Kind]*Editor)}
	for _, e := range editors {
		if _, ok := r.editors[e.Kind]; !ok {
			r.order = append(r.order, e.Kind)
		}
		r.editors[e.Kind] = e
	}
	return r
}

// Get returns the editor of kind k.
func (r *Registry) Get(k Kind) (*Editor, bool) {
	e, ok := r.editors[k]
	return e, ok
}

// All returns the editors in configuration order.
func (r *Registry) All() []*Editor {
	out := make([]*Editor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.editors[k])
	}
	return out
}

// KeyPairs returns the proof keys of every editor that has published them.
func (r *Registry) KeyPairs() []proof.KeyPair {
	var out []proof.KeyPair
	for _, e := range r.All() {
		if keys, ok := e.Discovery.Keys(); ok {
			out = append(out, keys)
		}
	}
	return out
}

// CanConvert reports whether any editor offers a convert action for ext.
func (r *Registry) CanConvert(ext string) bool {
	for _, e := range r.All() {
		if _, ok := e.Action(ext, discovery.ActionConvert); ok {
			return true
		}
	}
	return false
}
