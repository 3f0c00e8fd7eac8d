package discovery

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Document is the wire form of a discovery document.
type Document struct {
	XMLName  xml.Name  `xml:"wopi-discovery"`
	NetZones []NetZone `xml:"net-zone"`
	ProofKey *ProofKey `xml:"proof-key"`
}

// NetZone groups apps by network zone (internal-https, external-https, ...).
type NetZone struct {
	Name string   `xml:"name,attr"`
	Apps []XMLApp `xml:"app"`
}

// XMLApp is an <app> element.
type XMLApp struct {
	Name       string      `xml:"name,attr"`
	FavIconURL string      `xml:"favIconUrl,attr"`
	Actions    []XMLAction `xml:"action"`
}

// XMLAction is an <action> element.
type XMLAction struct {
	Name      string `xml:"name,attr"`
	Ext       string `xml:"ext,attr"`
	Default   bool   `xml:"default,attr"`
	URLSrc    string `xml:"urlsrc,attr"`
	TargetExt string `xml:"targetext,attr"`
}

// ProofKey is the <proof-key> element. Modulus and exponent attributes are
// base64 encoded.
type ProofKey struct {
	Value       string `xml:"value,attr"`
	Modulus     string `xml:"modulus,attr"`
	Exponent    string `xml:"exponent,attr"`
	OldValue    string `xml:"oldvalue,attr"`
	OldModulus  string `xml:"oldmodulus,attr"`
	OldExponent string `xml:"oldexponent,attr"`
}

// Parse decodes a discovery document.
func Parse(raw string) (*Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty discovery document")
	}

	var doc Document
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("error decoding discovery document: %w", err)
	}
	if len(doc.NetZones) == 0 {
		return nil, fmt.Errorf("discovery document has no net-zone")
	}
	return &doc, nil
}

// Zone returns the net-zone called name, compared case-insensitively, or the
// first zone when name is empty.
func (d *Document) Zone(name string) (*NetZone, error) {
	if len(d.NetZones) == 0 {
		return nil, fmt.Errorf("discovery document has no net-zone")
	}
	if name == "" {
		return &d.NetZones[0], nil
	}
	for i := range d.NetZones {
		if strings.EqualFold(d.NetZones[i].Name, name) {
			return &d.NetZones[i], nil
		}
	}
	return nil, fmt.Errorf("discovery document has no net-zone %q", name)
}
