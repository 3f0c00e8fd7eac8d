package api

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/database"
	"github.com/hashicorp-forge/wopihost/pkg/discovery/discoverytest"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/locks"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
	"github.com/hashicorp-forge/wopihost/pkg/proof/prooftest"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/storage/blob"
	"github.com/hashicorp-forge/wopihost/pkg/storage/catalog"
	"github.com/hashicorp-forge/wopihost/pkg/tokens"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

const (
	testBaseURL   = "https://wopi.example.com"
	testOfficeURL = "https://office.example.com"
)

// testEnv is a host with three users and a few files:
//
//	alice owns report.docx ("hello"), empty.docx and legacy.doc
//	bob may read report.docx and legacy.doc
//	carol has no access
type testEnv struct {
	srv     server.Server
	handler http.Handler
	catalog *catalog.Catalog
	key     *rsa.PrivateKey
	events  *events.Recorder

	report *storage.FileInfo
	empty  *storage.FileInfo
	legacy *storage.FileInfo
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := setupTestDB(t)
	cat := catalog.New(db, blob.NewFsBackend(afero.NewMemMapFs(), nil), nil)

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := cat.CreateUser(ctx, name, strings.ToUpper(name[:1])+name[1:], name+"@example.com")
		require.NoError(t, err)
	}

	report, err := cat.CreateFile(ctx, "alice", "report.docx", strings.NewReader("hello"))
	require.NoError(t, err)
	empty, err := cat.CreateFile(ctx, "alice", "empty.docx", strings.NewReader(""))
	require.NoError(t, err)
	legacy, err := cat.CreateFile(ctx, "alice", "legacy.doc", strings.NewReader("old"))
	require.NoError(t, err)
	require.NoError(t, cat.Grant(ctx, report.ID, "bob", storage.ModeRead))
	require.NoError(t, cat.Grant(ctx, legacy.ID, "bob", storage.ModeRead))

	cfg := &config.Config{
		Server: &config.Server{
			BaseURL:     testBaseURL,
			HostViewURL: "https://app.example.com/view/{fileId}",
			HostEditURL: "https://app.example.com/edit/{fileId}",
		},
		Database: &config.Database{DSN: ":memory:"},
		Editors: []*config.Editor{
			{Kind: "office", DiscoveryURL: testOfficeURL + "/hosting/discovery", Locale: "en-US"},
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	key := prooftest.NewKey(t)
	registry, err := server.NewEditors(cfg,
		discoverytest.StaticFetcher(discoverytest.XML(testOfficeURL, &key.PublicKey, nil)), nil)
	require.NoError(t, err)
	for _, e := range registry.All() {
		_, err := e.Discovery.Refresh(ctx)
		require.NoError(t, err)
	}

	recorder := &events.Recorder{}
	srv := server.Server{
		Config:     cfg,
		DB:         db,
		Logger:     hclog.NewNullLogger(),
		Editors:    registry,
		Tokens:     tokens.NewManager(tokens.NewMemoryStore()),
		Locks:      locks.NewCoordinator(locks.NewMemoryStore(), nil),
		Proof:      proof.NewValidator(false, nil),
		Users:      cat,
		Authorizer: cat,
		Files:      cat,
		Events:     recorder,
	}

	return &testEnv{
		srv:     srv,
		handler: NewMux(srv),
		catalog: cat,
		key:     key,
		events:  recorder,
		report:  report,
		empty:   empty,
		legacy:  legacy,
	}
}

func (e *testEnv) token(t *testing.T, user, fileID string) string {
	t.Helper()
	tok, err := e.srv.Tokens.Issue(context.Background(), user, fileID, "office")
	require.NoError(t, err)
	return tok.Value
}

// wopiRequest sends a signed request to a /wopi/ route.
func (e *testEnv) wopiRequest(t *testing.T, method, path, token string, headers map[string]string, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.wopiStream(t, method, path, token, headers, strings.NewReader(body))
}

// wopiStream is wopiRequest with the body read from r.
func (e *testEnv) wopiStream(t *testing.T, method, path, token string, headers map[string]string, r io.Reader) *httptest.ResponseRecorder {
	t.Helper()

	target := path + "?access_token=" + url.QueryEscape(token)
	req := httptest.NewRequest(method, target, r)

	ticks := proof.TicksFromTime(time.Now())
	req.Header.Set(wopi.HeaderTimestamp, strconv.FormatInt(ticks, 10))
	req.Header.Set(wopi.HeaderProof, prooftest.Sign(t, e.key, token, testBaseURL+target, ticks))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) lockRequest(t *testing.T, fileID, token string, override wopi.Override, lock, oldLock string) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{wopi.HeaderOverride: string(override)}
	if lock != "" {
		headers[wopi.HeaderLock] = lock
	}
	if oldLock != "" {
		headers[wopi.HeaderOldLock] = oldLock
	}
	return e.wopiRequest(t, http.MethodPost, "/wopi/files/"+fileID, token, headers, "")
}

func (e *testEnv) putFile(t *testing.T, fileID, token string, headers map[string]string, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := map[string]string{wopi.HeaderOverride: string(wopi.OverridePut)}
	for k, v := range headers {
		h[k] = v
	}
	return e.wopiRequest(t, http.MethodPost, "/wopi/files/"+fileID+"/contents", token, h, body)
}

// lockOnRead runs lock before its first Read, as if another client locked the
// file while the body was uploading.
type lockOnRead struct {
	r    io.Reader
	lock func()
	once sync.Once
}

func (l *lockOnRead) Read(p []byte) (int, error) {
	l.once.Do(l.lock)
	return l.r.Read(p)
}

func (e *testEnv) content(t *testing.T, fileID string) string {
	t.Helper()
	rc, _, err := e.catalog.Retrieve(context.Background(), fileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckFileInfo(t *testing.T) {
	env := newTestEnv(t)

	decode := func(t *testing.T, w *httptest.ResponseRecorder) CheckFileInfoResponse {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var resp CheckFileInfoResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp
	}

	t.Run("owner", func(t *testing.T) {
		tok := env.token(t, "alice", env.report.ID)
		resp := decode(t, env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, tok, nil, ""))

		alice, err := env.catalog.LookupUser(context.Background(), "alice")
		require.NoError(t, err)

		assert.Equal(t, "report.docx", resp.BaseFileName)
		assert.Equal(t, alice.ID, resp.OwnerID)
		assert.Equal(t, alice.ID, resp.UserID)
		assert.Equal(t, "Alice", resp.UserFriendlyName)
		assert.EqualValues(t, 5, resp.Size)
		assert.Equal(t, "1", resp.Version)
		assert.Equal(t, wopi.FormatTime(env.report.ModifiedAt), resp.LastModifiedTime)
		assert.Len(t, resp.LastModifiedTime, len(wopi.LastModifiedTimeFormat))

		assert.True(t, resp.SupportsUpdate)
		assert.True(t, resp.SupportsLocks)
		assert.True(t, resp.SupportsGetLock)
		assert.True(t, resp.SupportsExtendedLockLength)
		assert.False(t, resp.SupportsDeleteFile)
		assert.False(t, resp.SupportsRename)
		assert.False(t, resp.SupportsUserInfo)
		assert.False(t, resp.IsAnonymousUser)
		assert.False(t, resp.DisableExport)

		assert.True(t, resp.UserCanWrite)
		assert.True(t, resp.UserCanRename)
		// docx has no convert action.
		assert.True(t, resp.UserCanNotWriteRelative)
	})

	t.Run("owner of convertible file", func(t *testing.T) {
		tok := env.token(t, "alice", env.legacy.ID)
		resp := decode(t, env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.legacy.ID, tok, nil, ""))
		assert.True(t, resp.UserCanWrite)
		assert.False(t, resp.UserCanNotWriteRelative)
	})

	t.Run("reader", func(t *testing.T) {
		tok := env.token(t, "bob", env.legacy.ID)
		resp := decode(t, env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.legacy.ID, tok, nil, ""))
		assert.False(t, resp.UserCanWrite)
		assert.False(t, resp.UserCanRename)
		assert.True(t, resp.UserCanNotWriteRelative)
	})

	t.Run("unknown file", func(t *testing.T) {
		tok := env.token(t, "alice", "missing")
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/missing", tok, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTokenAuth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, "not-a-token", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token for another file", func(t *testing.T) {
		tok := env.token(t, "alice", env.empty.ID)
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, tok, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token for unknown user", func(t *testing.T) {
		tok := env.token(t, "mallory", env.report.ID)
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, tok, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		now := time.Now()
		env.srv.Tokens = tokens.NewManager(tokens.NewMemoryStore(),
			tokens.WithClock(func() time.Time { return now }))
		env.handler = NewMux(env.srv)

		tok := env.token(t, "alice", env.report.ID)
		w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, tok, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		now = now.Add(tokens.DefaultTTL)
		w = env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID, tok, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestProofCheck(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "alice", env.report.ID)
	target := "/wopi/files/" + env.report.ID + "?access_token=" + url.QueryEscape(tok)

	send := func(t *testing.T, ticks int64, signature string) int {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set(wopi.HeaderTimestamp, strconv.FormatInt(ticks, 10))
		req.Header.Set(wopi.HeaderProof, signature)
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		return w.Code
	}

	now := proof.TicksFromTime(time.Now())

	t.Run("valid", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(t, now, prooftest.Sign(t, env.key, tok, testBaseURL+target, now)))
	})

	t.Run("wrong key", func(t *testing.T) {
		other := prooftest.NewKey(t)
		assert.Equal(t, http.StatusInternalServerError,
			send(t, now, prooftest.Sign(t, other, tok, testBaseURL+target, now)))
	})

	t.Run("signed for another url", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError,
			send(t, now, prooftest.Sign(t, env.key, tok, testBaseURL+"/wopi/files/other", now)))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		stale := proof.TicksFromTime(time.Now().Add(-proof.MaxAge - time.Minute))
		assert.Equal(t, http.StatusInternalServerError,
			send(t, stale, prooftest.Sign(t, env.key, tok, testBaseURL+target, stale)))
	})

	t.Run("missing proof", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, send(t, now, ""))
	})

	t.Run("disabled", func(t *testing.T) {
		srv := env.srv
		srv.Proof = nil
		w := httptest.NewRecorder()
		NewMux(srv).ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetFile(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "bob", env.report.ID)

	w := env.wopiRequest(t, http.MethodGet, "/wopi/files/"+env.report.ID+"/contents", tok, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "1", w.Header().Get(wopi.HeaderItemVersion))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
}

func TestLockScenario(t *testing.T) {
	env := newTestEnv(t)
	id := env.report.ID
	tok := env.token(t, "alice", id)

	w := env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get(wopi.HeaderItemVersion))

	w = env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "")
	assert.Equal(t, http.StatusOK, w.Code, "locking again with the same value succeeds")

	w = env.lockRequest(t, id, tok, wopi.OverrideLock, "B", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))
	assert.NotEmpty(t, w.Header().Get(wopi.HeaderLockFailureReason))

	w = env.lockRequest(t, id, tok, wopi.OverrideUnlock, "A", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(wopi.HeaderItemVersion))

	w = env.lockRequest(t, id, tok, wopi.OverrideGetLock, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	values, ok := w.Header()[http.CanonicalHeaderKey(wopi.HeaderLock)]
	require.True(t, ok, "GET_LOCK always returns the lock header")
	assert.Equal(t, []string{""}, values)
}

func TestLockOperations(t *testing.T) {
	t.Run("refresh", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		w := env.lockRequest(t, id, tok, wopi.OverrideRefreshLock, "A", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "", w.Header().Get(wopi.HeaderLock))

		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)
		assert.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideRefreshLock, "A", "").Code)

		w = env.lockRequest(t, id, tok, wopi.OverrideRefreshLock, "B", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))
	})

	t.Run("relock", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		w := env.lockRequest(t, id, tok, wopi.OverrideLock, "B", "A")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "", w.Header().Get(wopi.HeaderLock))

		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)

		w = env.lockRequest(t, id, tok, wopi.OverrideLock, "C", "X")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))

		w = env.lockRequest(t, id, tok, wopi.OverrideLock, "B", "A")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get(wopi.HeaderItemVersion))

		w = env.lockRequest(t, id, tok, wopi.OverrideGetLock, "", "")
		assert.Equal(t, "B", w.Header().Get(wopi.HeaderLock))
	})

	t.Run("unlock mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		w := env.lockRequest(t, id, tok, wopi.OverrideUnlock, "A", "")
		assert.Equal(t, http.StatusConflict, w.Code)

		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)
		w = env.lockRequest(t, id, tok, wopi.OverrideUnlock, "B", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))
	})

	t.Run("bad requests", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		for _, override := range []wopi.Override{wopi.OverrideLock, wopi.OverrideUnlock, wopi.OverrideRefreshLock} {
			w := env.lockRequest(t, id, tok, override, "", "")
			assert.Equal(t, http.StatusBadRequest, w.Code, override)
		}

		w := env.lockRequest(t, id, tok, wopi.OverrideLock, strings.Repeat("x", locks.MaxValueLength+1), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = env.lockRequest(t, id, tok, wopi.OverrideLock, strings.Repeat("x", locks.MaxValueLength), "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = env.lockRequest(t, id, tok, "RENAME_FILE", "A", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = env.lockRequest(t, id, tok, "", "A", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires write permission", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "bob", id)

		w := env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = env.lockRequest(t, id, tok, wopi.OverrideGetLock, "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPutFile(t *testing.T) {
	t.Run("zero size scenario", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.empty.ID
		tok := env.token(t, "alice", id)

		w := env.putFile(t, id, tok, nil, "first")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "2", w.Header().Get(wopi.HeaderItemVersion))
		assert.Equal(t, "first", env.content(t, id))

		var resp PutFileResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp.LastModifiedTime)

		w = env.putFile(t, id, tok, nil, "second")
		assert.Equal(t, http.StatusConflict, w.Code)
		values, ok := w.Header()[http.CanonicalHeaderKey(wopi.HeaderLock)]
		require.True(t, ok)
		assert.Equal(t, []string{""}, values)
		assert.Equal(t, "first", env.content(t, id))

		got := env.events.Events()
		require.Len(t, got, 1)
		assert.Equal(t, events.FileUpdated, got[0].Type)
		assert.Equal(t, id, got[0].FileID)
		assert.Equal(t, "alice", got[0].User)
		assert.Equal(t, "2", got[0].Version)
	})

	t.Run("locked file", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)

		w := env.putFile(t, id, tok, map[string]string{wopi.HeaderLock: "B"}, "nope")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))

		w = env.putFile(t, id, tok, nil, "nope")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "hello", env.content(t, id))

		w = env.putFile(t, id, tok, map[string]string{wopi.HeaderLock: "A"}, "updated")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(wopi.HeaderItemVersion))
		assert.Equal(t, "updated", env.content(t, id))
	})

	t.Run("exit save", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)

		w := env.putFile(t, id, tok, map[string]string{wopi.HeaderExitSave: "false"}, "nope")
		assert.Equal(t, http.StatusConflict, w.Code)

		w = env.putFile(t, id, tok, map[string]string{wopi.HeaderExitSave: "true"}, "closing")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "closing", env.content(t, id))

		w = env.putFile(t, id, tok, map[string]string{wopi.HeaderExitSaveLegacy: ""}, "legacy")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "legacy", env.content(t, id))
	})

	t.Run("exit save on unlocked file", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)

		w := env.putFile(t, id, tok, map[string]string{wopi.HeaderExitSave: "true"}, "nope")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("lock taken during upload", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.empty.ID
		tok := env.token(t, "alice", id)

		body := &lockOnRead{r: strings.NewReader("late"), lock: func() {
			res, err := env.srv.Locks.Lock(context.Background(), id, "B")
			require.NoError(t, err)
			require.True(t, res.Acquired)
		}}
		w := env.wopiStream(t, http.MethodPost, "/wopi/files/"+id+"/contents", tok,
			map[string]string{wopi.HeaderOverride: string(wopi.OverridePut)}, body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "B", w.Header().Get(wopi.HeaderLock))
		assert.Equal(t, "", env.content(t, id))
		assert.Empty(t, env.events.Events())

		info, err := env.catalog.Stat(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "1", info.Version)
	})

	t.Run("lock released during upload", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.report.ID
		tok := env.token(t, "alice", id)
		require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)

		body := &lockOnRead{r: strings.NewReader("late"), lock: func() {
			res, err := env.srv.Locks.Unlock(context.Background(), id, "A")
			require.NoError(t, err)
			require.True(t, res.Acquired)
		}}
		w := env.wopiStream(t, http.MethodPost, "/wopi/files/"+id+"/contents", tok, map[string]string{
			wopi.HeaderOverride: string(wopi.OverridePut),
			wopi.HeaderLock:     "A",
		}, body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "hello", env.content(t, id))
	})

	t.Run("requires write permission", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "bob", env.report.ID)

		w := env.putFile(t, env.report.ID, tok, nil, "nope")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong override", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.empty.ID)

		w := env.putFile(t, env.empty.ID, tok, map[string]string{wopi.HeaderOverride: "LOCK"}, "nope")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPutRelativeFile(t *testing.T) {
	putRelative := func(t *testing.T, env *testEnv, fileID, token string, headers map[string]string, body string) *httptest.ResponseRecorder {
		t.Helper()
		h := map[string]string{
			wopi.HeaderOverride:       string(wopi.OverridePutRelative),
			wopi.HeaderFileConversion: "true",
		}
		for k, v := range headers {
			h[k] = v
		}
		return env.wopiRequest(t, http.MethodPost, "/wopi/files/"+fileID, token, h, body)
	}

	decode := func(t *testing.T, w *httptest.ResponseRecorder) PutRelativeFileResponse {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp PutRelativeFileResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp
	}

	t.Run("suggested extension", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderSuggestedTarget: ".docx"}, "converted")
		resp := decode(t, w)
		assert.Equal(t, "legacy.docx", resp.Name)
		assert.Equal(t, "1", w.Header().Get(wopi.HeaderItemVersion))

		u, err := url.Parse(resp.URL)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resp.URL, testBaseURL+"/wopi/files/"))
		newID := strings.TrimPrefix(u.Path, "/wopi/files/")
		assert.Equal(t, "https://app.example.com/view/"+newID, resp.HostViewURL)
		assert.Equal(t, "https://app.example.com/edit/"+newID, resp.HostEditURL)
		assert.Equal(t, "converted", env.content(t, newID))

		// The new token works for the new file and expires with the old one.
		newTok := u.Query().Get("access_token")
		old, err := env.srv.Tokens.Lookup(context.Background(), tok)
		require.NoError(t, err)
		issued, err := env.srv.Tokens.Lookup(context.Background(), newTok)
		require.NoError(t, err)
		assert.True(t, old.ExpiresAt.Equal(issued.ExpiresAt))
		assert.Equal(t, newID, issued.FileID)

		w = env.wopiRequest(t, http.MethodGet, "/wopi/files/"+newID, newTok, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		got := env.events.Events()
		require.Len(t, got, 1)
		assert.Equal(t, events.FileCreated, got[0].Type)
		assert.Equal(t, env.legacy.ID, got[0].SourceFileID)
	})

	t.Run("suggested name is adjusted", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		resp := decode(t, putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderSuggestedTarget: "report.docx"}, "x"))
		assert.Equal(t, "report (2).docx", resp.Name)
	})

	t.Run("relative target utf7", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		resp := decode(t, putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderRelativeTarget: wopi.EncodeUTF7("résumé.docx")}, "x"))
		assert.Equal(t, "résumé.docx", resp.Name)
	})

	t.Run("relative target kept verbatim", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		decomposed := "cafe\u0301.docx"
		resp := decode(t, putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderRelativeTarget: wopi.EncodeUTF7(decomposed)}, "x"))
		assert.Equal(t, decomposed, resp.Name)
		assert.NotEqual(t, "caf\u00e9.docx", resp.Name)

		found, err := env.catalog.FindByName(context.Background(), env.legacy.OwnerID, decomposed)
		require.NoError(t, err)
		assert.Equal(t, decomposed, found.Name)
	})

	t.Run("relative target exists", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderRelativeTarget: "report.docx"}, "x")
		require.Equal(t, http.StatusConflict, w.Code)
		valid, err := wopi.DecodeUTF7(w.Header().Get(wopi.HeaderValidRelativeTarget))
		require.NoError(t, err)
		assert.Equal(t, "report (2).docx", valid)
		assert.Equal(t, "hello", env.content(t, env.report.ID))
	})

	t.Run("relative target overwrite", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok, map[string]string{
			wopi.HeaderRelativeTarget:    "report.docx",
			wopi.HeaderOverwriteRelative: "true",
		}, "overwritten")
		resp := decode(t, w)
		assert.Equal(t, "report.docx", resp.Name)
		assert.Equal(t, "2", w.Header().Get(wopi.HeaderItemVersion))
		assert.Equal(t, "overwritten", env.content(t, env.report.ID))

		got := env.events.Events()
		require.Len(t, got, 1)
		assert.Equal(t, events.FileUpdated, got[0].Type)
		assert.Equal(t, env.report.ID, got[0].FileID)
	})

	t.Run("relative target overwrite locked", func(t *testing.T) {
		env := newTestEnv(t)
		reportTok := env.token(t, "alice", env.report.ID)
		require.Equal(t, http.StatusOK,
			env.lockRequest(t, env.report.ID, reportTok, wopi.OverrideLock, "L", "").Code)

		tok := env.token(t, "alice", env.legacy.ID)
		w := putRelative(t, env, env.legacy.ID, tok, map[string]string{
			wopi.HeaderRelativeTarget:    "report.docx",
			wopi.HeaderOverwriteRelative: "true",
		}, "x")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "L", w.Header().Get(wopi.HeaderLock))
		assert.Equal(t, "hello", env.content(t, env.report.ID))
	})

	t.Run("relative target locked during upload", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		body := &lockOnRead{r: strings.NewReader("x"), lock: func() {
			res, err := env.srv.Locks.Lock(context.Background(), env.report.ID, "L")
			require.NoError(t, err)
			require.True(t, res.Acquired)
		}}
		w := env.wopiStream(t, http.MethodPost, "/wopi/files/"+env.legacy.ID, tok, map[string]string{
			wopi.HeaderOverride:          string(wopi.OverridePutRelative),
			wopi.HeaderFileConversion:    "true",
			wopi.HeaderRelativeTarget:    "report.docx",
			wopi.HeaderOverwriteRelative: "true",
		}, body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "L", w.Header().Get(wopi.HeaderLock))
		assert.Equal(t, "hello", env.content(t, env.report.ID))
	})

	t.Run("invalid relative target", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		for _, target := range []string{"a/b.docx", "..", "bad:name.docx", strings.Repeat("a", wopi.MaxNameLength) + ".docx", "abc+"} {
			w := putRelative(t, env, env.legacy.ID, tok,
				map[string]string{wopi.HeaderRelativeTarget: target}, "x")
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
		}
	})

	t.Run("target headers", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok, nil, "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = putRelative(t, env, env.legacy.ID, tok, map[string]string{
			wopi.HeaderSuggestedTarget: ".docx",
			wopi.HeaderRelativeTarget:  "a.docx",
		}, "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not a conversion", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "alice", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok, map[string]string{
			wopi.HeaderFileConversion:  "false",
			wopi.HeaderSuggestedTarget: ".docx",
		}, "x")
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("requires write permission", func(t *testing.T) {
		env := newTestEnv(t)
		tok := env.token(t, "bob", env.legacy.ID)

		w := putRelative(t, env, env.legacy.ID, tok,
			map[string]string{wopi.HeaderSuggestedTarget: ".docx"}, "x")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	id := env.report.ID
	tok := env.token(t, "alice", id)
	del := map[string]string{wopi.HeaderOverride: string(wopi.OverrideDelete)}

	w := env.wopiRequest(t, http.MethodPost, "/wopi/files/"+id, tok, del, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	require.Equal(t, http.StatusOK, env.lockRequest(t, id, tok, wopi.OverrideLock, "A", "").Code)
	w = env.wopiRequest(t, http.MethodPost, "/wopi/files/"+id, tok, del, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "A", w.Header().Get(wopi.HeaderLock))
}

func TestHostEndpoints(t *testing.T) {
	env := newTestEnv(t)

	get := func(t *testing.T, path, user string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.Header.Set("X-Forwarded-User", user)
		}
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		return w
	}

	t.Run("supported extensions", func(t *testing.T) {
		w := get(t, "/editors/office/supportedExts", "")
		require.Equal(t, http.StatusOK, w.Code)

		var exts map[string]struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&exts))
		assert.Equal(t, "Word", exts["docx"].Name)
		assert.Equal(t, "Excel", exts["xlsx"].Name)

		assert.Equal(t, http.StatusNotFound, get(t, "/editors/collabora/supportedExts", "").Code)
		assert.Equal(t, http.StatusNotFound, get(t, "/editors/onlyoffice/supportedExts", "").Code)
	})

	t.Run("action bootstrap", func(t *testing.T) {
		before := time.Now()
		w := get(t, "/editors/office/"+env.report.ID+"/edit", "bob")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp HostActionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t,
			testOfficeURL+"/we/wordeditorframe.aspx?ui=en-US&rs=en-US&WOPISrc="+
				url.QueryEscape(testBaseURL+"/wopi/files/"+env.report.ID),
			resp.ActionURL)
		assert.Equal(t, testOfficeURL+"/wv/resources/1033/FavIcon_Word.ico", resp.FavIconURL)
		assert.GreaterOrEqual(t, resp.AccessTokenTTL, before.Add(tokens.DefaultTTL).UnixMilli())

		user, ok := env.srv.Tokens.Resolve(context.Background(), resp.AccessToken, env.report.ID)
		assert.True(t, ok)
		assert.Equal(t, "bob", user)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get(t, "/editors/office/"+env.report.ID+"/view", "").Code)
		assert.Equal(t, http.StatusUnauthorized, get(t, "/editors/office/"+env.report.ID+"/view", "mallory").Code)
		assert.Equal(t, http.StatusUnauthorized, get(t, "/editors/office/"+env.report.ID+"/view", "carol").Code)
		assert.Equal(t, http.StatusNotFound, get(t, "/editors/office/missing/view", "alice").Code)
		assert.Equal(t, http.StatusNotFound, get(t, "/editors/office/"+env.report.ID+"/present", "alice").Code)
		assert.Equal(t, http.StatusNotFound, get(t, "/editors/collabora/"+env.report.ID+"/view", "alice").Code)
	})
}
