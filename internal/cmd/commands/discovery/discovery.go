package discovery

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/discovery"
	"github.com/hashicorp-forge/wopihost/pkg/editor"
)

type Command struct {
	*base.Command

	flagConfig string
	flagEditor string
	flagExt    string
	flagFormat string
}

// Report is what the command prints for one editor.
type Report struct {
	Editor         string                   `json:"editor" yaml:"editor"`
	URL            string                   `json:"url" yaml:"url"`
	FetchedAt      time.Time                `json:"fetchedAt" yaml:"fetchedAt"`
	HasCurrentKey  bool                     `json:"hasCurrentKey" yaml:"hasCurrentKey"`
	HasPreviousKey bool                     `json:"hasPreviousKey" yaml:"hasPreviousKey"`
	Extensions     map[string]discovery.App `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Actions        []ReportAction           `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ReportAction is one action of the extension asked for with -ext.
type ReportAction struct {
	Name      string `json:"name" yaml:"name"`
	App       string `json:"app" yaml:"app"`
	URLSrc    string `json:"urlsrc" yaml:"urlsrc"`
	TargetExt string `json:"targetExt,omitempty" yaml:"targetExt,omitempty"`
	Default   bool   `json:"default" yaml:"default"`
}

func (c *Command) Synopsis() string {
	return "Fetch and print an editor's discovery document"
}

func (c *Command) Help() string {
	return `Usage: wopihost discovery -config=config.hcl [-editor=office] [-ext=docx]

  Fetch the discovery document of every configured editor, or only the one
  named by -editor, and print the default app of each extension and the
  proof keys found. With -ext, print the actions of that extension instead.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("discovery", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to config file",
	)
	f.StringVar(
		&c.flagEditor, "editor", "", "Editor kind to query (office, collabora)",
	)
	f.StringVar(
		&c.flagExt, "ext", "", "Print the actions of this file extension",
	)
	f.StringVar(
		&c.flagFormat, "format", "json", "Output format (json, yaml)",
	)

	return f
}

func (c *Command) Run(args []string) int {
	log, ui := c.Log, c.UI

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagConfig == "" {
		ui.Error("config flag is required")
		return 1
	}
	if c.flagFormat != "json" && c.flagFormat != "yaml" {
		ui.Error(fmt.Sprintf("unsupported format %q", c.flagFormat))
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	registry, err := server.NewEditors(cfg, nil, log)
	if err != nil {
		ui.Error(fmt.Sprintf("error creating editors: %v", err))
		return 1
	}

	editors := registry.All()
	if c.flagEditor != "" {
		kind, err := editor.ParseKind(c.flagEditor)
		if err != nil {
			ui.Error(err.Error())
			return 1
		}
		e, ok := registry.Get(kind)
		if !ok {
			ui.Error(fmt.Sprintf("editor %q is not configured", kind))
			return 1
		}
		editors = []*editor.Editor{e}
	}

	urls := make(map[string]string, len(cfg.Editors))
	for _, ec := range cfg.Editors {
		urls[ec.Kind] = ec.DiscoveryURL
	}

	var reports []Report
	failed := false
	for _, e := range editors {
		snap, err := e.Discovery.Refresh(context.Background())
		if err != nil {
			ui.Error(fmt.Sprintf("error fetching discovery for editor %q: %v", e.Kind, err))
			failed = true
			continue
		}
		reports = append(reports, NewReport(e.Kind, urls[e.Kind.String()], snap, c.flagExt))
	}

	out, err := render(reports, c.flagFormat)
	if err != nil {
		ui.Error(fmt.Sprintf("error rendering output: %v", err))
		return 1
	}
	ui.Output(out)

	if failed {
		return 1
	}
	return 0
}

// NewReport summarizes snap. With ext set it lists that extension's actions
// instead of the extension map.
func NewReport(kind editor.Kind, url string, snap *discovery.Snapshot, ext string) Report {
	keys := snap.Keys()
	r := Report{
		Editor:         kind.String(),
		URL:            url,
		FetchedAt:      snap.FetchedAt().UTC(),
		HasCurrentKey:  keys.Current != nil,
		HasPreviousKey: keys.Previous != nil,
	}

	if ext == "" {
		r.Extensions = snap.Defaults()
		return r
	}

	for _, a := range snap.Actions(ext) {
		ra := ReportAction{
			Name:      a.Name,
			URLSrc:    a.URLSrc,
			TargetExt: a.TargetExt,
			Default:   a.Default,
		}
		if a.App != nil {
			ra.App = a.App.Name
		}
		r.Actions = append(r.Actions, ra)
	}
	sort.Slice(r.Actions, func(i, j int) bool {
		return r.Actions[i].Name < r.Actions[j].Name
	})
	return r
}

func render(reports []Report, format string) (string, error) {
	if format == "yaml" {
		out, err := yaml.Marshal(reports)
		return string(out), err
	}
	out, err := json.MarshalIndent(reports, "", "  ")
	return string(out), err
}
