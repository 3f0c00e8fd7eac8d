// Package discoverytest builds discovery documents for tests.
package discoverytest

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/hashicorp-forge/wopihost/pkg/discovery"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
)

// XML returns a discovery document with Word (docx edit/view, doc convert),
// Excel (xlsx edit/view) and a denylist candidate "Pdf" app. Keys may be nil.
func XML(baseURL string, current, previous *rsa.PublicKey) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<wopi-discovery>` + "\n")
	b.WriteString(`  <net-zone name="external-https">` + "\n")
	fmt.Fprintf(&b, `    <app name="Word" favIconUrl="%s/wv/resources/1033/FavIcon_Word.ico" checkLicense="true">`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="edit" ext="docx" default="true" requires="locks,cobalt,update" urlsrc="%s/we/wordeditorframe.aspx?&lt;ui=UI_LLCC&amp;&gt;&lt;rs=DC_LLCC&amp;&gt;&lt;dchat=DISABLE_CHAT&amp;&gt;"/>`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="view" ext="docx" urlsrc="%s/wv/wordviewerframe.aspx?&lt;ui=UI_LLCC&amp;&gt;&lt;rs=DC_LLCC&amp;&gt;"/>`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="convert" ext="doc" targetext="docx" requires="update" urlsrc="%s/oh/wopi/convert?&lt;ui=UI_LLCC&amp;&gt;"/>`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="view" ext="doc" urlsrc="%s/wv/wordviewerframe.aspx?"/>`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="getinfo" urlsrc="%s/wv/info.aspx?"/>`+"\n", baseURL)
	b.WriteString(`    </app>` + "\n")
	fmt.Fprintf(&b, `    <app name="Excel" favIconUrl="%s/x/_layouts/resources/FavIcon_Excel.ico">`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="edit" ext="xlsx" default="true" urlsrc="%s/x/_layouts/xlviewerinternal.aspx?edit=1&amp;&lt;ui=UI_LLCC&amp;&gt;"/>`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="view" ext="xlsx" urlsrc="%s/x/_layouts/xlviewerinternal.aspx?&lt;ui=UI_LLCC&amp;&gt;"/>`+"\n", baseURL)
	b.WriteString(`    </app>` + "\n")
	fmt.Fprintf(&b, `    <app name="Pdf" favIconUrl="%s/pdf.ico">`+"\n", baseURL)
	fmt.Fprintf(&b, `      <action name="view" ext="pdf" urlsrc="%s/pdf/view?"/>`+"\n", baseURL)
	b.WriteString(`    </app>` + "\n")
	b.WriteString(`  </net-zone>` + "\n")

	if current != nil {
		mod, exp := proof.EncodePublicKey(current)
		b.WriteString(`  <proof-key`)
		fmt.Fprintf(&b, ` modulus="%s" exponent="%s" value="unused"`, mod, exp)
		if previous != nil {
			oldMod, oldExp := proof.EncodePublicKey(previous)
			fmt.Fprintf(&b, ` oldmodulus="%s" oldexponent="%s" oldvalue="unused"`, oldMod, oldExp)
		}
		b.WriteString(`/>` + "\n")
	}

	b.WriteString(`</wopi-discovery>` + "\n")
	return b.String()
}

// StaticFetcher always returns the same document.
func StaticFetcher(doc string) discovery.Fetcher {
	return discovery.FetcherFunc(func(ctx context.Context, url string) (string, error) {
		return doc, nil
	})
}
