package editor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/wopihost/pkg/discovery"
	"github.com/hashicorp-forge/wopihost/pkg/discovery/discoverytest"
	"github.com/hashicorp-forge/wopihost/pkg/proof/prooftest"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Office")
	require.NoError(t, err)
	assert.Equal(t, Office, k)

	k, err = ParseKind("collabora")
	require.NoError(t, err)
	assert.Equal(t, Collabora, k)

	_, err = ParseKind("onlyoffice")
	assert.Error(t, err)
}

func TestKindActionURL(t *testing.T) {
	const wopiSrc = "https://host.example.com/wopi/files/abc"

	tests := []struct {
		name   string
		kind   Kind
		urlsrc string
		locale string
		want   string
	}{
		{
			name:   "office fills locale and drops other placeholders",
			kind:   Office,
			urlsrc: "https://office/we/wordeditorframe.aspx?<ui=UI_LLCC&><rs=DC_LLCC&><dchat=DISABLE_CHAT&>",
			locale: "de-DE",
			want:   "https://office/we/wordeditorframe.aspx?ui=de-DE&rs=de-DE&WOPISrc=https%3A%2F%2Fhost.example.com%2Fwopi%2Ffiles%2Fabc",
		},
		{
			name:   "office without locale",
			kind:   Office,
			urlsrc: "https://office/x/xlviewerinternal.aspx?edit=1&<ui=UI_LLCC&>",
			want:   "https://office/x/xlviewerinternal.aspx?edit=1&WOPISrc=https%3A%2F%2Fhost.example.com%2Fwopi%2Ffiles%2Fabc",
		},
		{
			name:   "collabora",
			kind:   Collabora,
			urlsrc: "https://cool/browser/dist/cool.html?",
			want:   "https://cool/browser/dist/cool.html?WOPISrc=https%3A%2F%2Fhost.example.com%2Fwopi%2Ffiles%2Fabc",
		},
		{
			name:   "collabora with locale and no query",
			kind:   Collabora,
			urlsrc: "https://cool/browser/dist/cool.html",
			locale: "fr",
			want:   "https://cool/browser/dist/cool.html?lang=fr&WOPISrc=https%3A%2F%2Fhost.example.com%2Fwopi%2Ffiles%2Fabc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.ActionURL(tt.urlsrc, wopiSrc, tt.locale))
		})
	}
}

func newEditor(t *testing.T, kind Kind, doc string) *Editor {
	t.Helper()
	cache, err := discovery.NewCache(discovery.Config{
		URL:     "https://editor.example.com/hosting/discovery",
		Fetcher: discoverytest.StaticFetcher(doc),
	})
	require.NoError(t, err)
	_, err = cache.Refresh(context.Background())
	require.NoError(t, err)
	return &Editor{Kind: kind, Discovery: cache, Locale: "en-US"}
}

func TestEditor(t *testing.T) {
	e := newEditor(t, Office, discoverytest.XML("https://office", nil, nil))

	u, ok := e.ActionURL("docx", discovery.ActionEdit, "https://host/wopi/files/1")
	require.True(t, ok)
	assert.Equal(t, "https://office/we/wordeditorframe.aspx?ui=en-US&rs=en-US&WOPISrc=https%3A%2F%2Fhost%2Fwopi%2Ffiles%2F1", u)

	_, ok = e.ActionURL("docx", "embedview", "https://host/wopi/files/1")
	assert.False(t, ok)

	assert.Equal(t, "https://office/wv/resources/1033/FavIcon_Word.ico", e.FavIconURL(".DOCX"))
	assert.Empty(t, e.FavIconURL("zip"))
}

func TestRegistry(t *testing.T) {
	key := prooftest.NewKey(t)
	office := newEditor(t, Office, discoverytest.XML("https://office", &key.PublicKey, nil))
	cool := newEditor(t, Collabora, discoverytest.XML("https://cool", nil, nil))

	r := NewRegistry(office, cool)

	got, ok := r.Get(Collabora)
	require.True(t, ok)
	assert.Same(t, cool, got)

	_, ok = NewRegistry(office).Get(Collabora)
	assert.False(t, ok)

	assert.Equal(t, []*Editor{office, cool}, r.All())

	pairs := r.KeyPairs()
	require.Len(t, pairs, 1)
	assert.True(t, pairs[0].Current.Equal(&key.PublicKey))

	assert.True(t, r.CanConvert("doc"))
	assert.False(t, r.CanConvert("docx"))
}
