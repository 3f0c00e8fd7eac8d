// Package discovery caches the editor's discovery document: which actions
// (edit, view, convert, ...) exist for each file extension, which app is the
// default for an extension, and the proof keys the editor signs requests
// with.
package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp-forge/wopihost/pkg/proof"
)

// Well-known action names.
const (
	ActionEdit    = "edit"
	ActionView    = "view"
	ActionConvert = "convert"
)

// App is an editor application (Word, Excel, Writer, ...).
type App struct {
	Name       string `json:"name" yaml:"name"`
	FavIconURL string `json:"favIconUrl" yaml:"favIconUrl"`
}

// Action is something an App can do with files of one extension.
type Action struct {
	Name string
	// URLSrc is the editor URL template for the action.
	URLSrc    string
	Ext       string
	TargetExt string
	Default   bool
	App       *App
}

// Snapshot is one fully parsed discovery document. Snapshots are never
// modified after they are built.
type Snapshot struct {
	actions   map[string]map[string]Action
	defaults  map[string]App
	keys      proof.KeyPair
	fetchedAt time.Time
}

// Keys returns the proof keys of the snapshot.
func (s *Snapshot) Keys() proof.KeyPair { return s.keys }

// FetchedAt is when the underlying document was fetched.
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// Actions returns a copy of the actions for ext keyed by action name.
func (s *Snapshot) Actions(ext string) map[string]Action {
	out := make(map[string]Action)
	for name, a := range s.actions[NormalizeExt(ext)] {
		out[name] = a
	}
	return out
}

// Defaults returns a copy of the extension to default App map.
func (s *Snapshot) Defaults() map[string]App {
	out := make(map[string]App, len(s.defaults))
	for ext, app := range s.defaults {
		out[ext] = app
	}
	return out
}

// NormalizeExt lower-cases ext and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Build indexes one net-zone of a parsed document into a Snapshot. The zone
// is picked by name, or the first zone when zone is empty. Apps named in
// denylist are dropped before indexing and actions without an extension are
// skipped. The first action seen for an extension names its default app
// unless a later action is marked default.
func Build(doc *Document, zone string, denylist []string, fetchedAt time.Time) (*Snapshot, error) {
	nz, err := doc.Zone(zone)
	if err != nil {
		return nil, err
	}

	denied := make(map[string]bool, len(denylist))
	for _, name := range denylist {
		denied[strings.ToLower(name)] = true
	}

	s := &Snapshot{
		actions:   make(map[string]map[string]Action),
		defaults:  make(map[string]App),
		fetchedAt: fetchedAt,
	}

	for _, xa := range nz.Apps {
		if denied[strings.ToLower(xa.Name)] {
			continue
		}
		app := &App{Name: xa.Name, FavIconURL: xa.FavIconURL}

		for _, xact := range xa.Actions {
			ext := NormalizeExt(xact.Ext)
			if ext == "" {
				continue
			}
			action := Action{
				Name:      xact.Name,
				URLSrc:    xact.URLSrc,
				Ext:       ext,
				TargetExt: NormalizeExt(xact.TargetExt),
				Default:   xact.Default,
				App:       app,
			}

			byName, ok := s.actions[ext]
			if !ok {
				byName = make(map[string]Action)
				s.actions[ext] = byName
			}
			if _, exists := byName[action.Name]; !exists || action.Default {
				byName[action.Name] = action
			}

			if _, ok := s.defaults[ext]; !ok || action.Default {
				s.defaults[ext] = *app
			}
		}
	}

	keys, err := buildKeys(doc.ProofKey)
	if err != nil {
		return nil, err
	}
	s.keys = keys

	return s, nil
}

func buildKeys(pk *ProofKey) (proof.KeyPair, error) {
	var keys proof.KeyPair
	if pk == nil {
		return keys, nil
	}

	if pk.Modulus != "" || pk.Exponent != "" {
		current, err := proof.ParsePublicKey(pk.Modulus, pk.Exponent)
		if err != nil {
			return keys, fmt.Errorf("error parsing current proof key: %w", err)
		}
		keys.Current = current
	}
	if pk.OldModulus != "" || pk.OldExponent != "" {
		previous, err := proof.ParsePublicKey(pk.OldModulus, pk.OldExponent)
		if err != nil {
			return keys, fmt.Errorf("error parsing old proof key: %w", err)
		}
		keys.Previous = previous
	}
	return keys, nil
}
