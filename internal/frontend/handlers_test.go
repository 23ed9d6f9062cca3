package frontend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	token      string
	loginErr   error
	output     string
	genErr     error
	loginCalls []Values
	genCalls   []string
	genTokens  []string
}

func (f *fakeAPI) Login(_ context.Context, username, password string) (string, error) {
	f.loginCalls = append(f.loginCalls, Values{FieldUsername: username, FieldPassword: password})
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.token, nil
}

func (f *fakeAPI) GenerateText(_ context.Context, token, prompt string) (string, error) {
	f.genCalls = append(f.genCalls, prompt)
	f.genTokens = append(f.genTokens, token)
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.output, nil
}

type streamingAPI struct {
	*fakeAPI
	chunks []string
}

func (s *streamingAPI) GenerateTextStream(_ context.Context, token, prompt string, onChunk func(string) error) (string, error) {
	s.genCalls = append(s.genCalls, prompt)
	s.genTokens = append(s.genTokens, token)
	if s.genErr != nil {
		return "", s.genErr
	}
	full := ""
	for _, c := range s.chunks {
		full += c
		if err := onChunk(c); err != nil {
			return full, err
		}
	}
	return full, nil
}

type pages struct{ visited []session.Page }

func (p *pages) Navigate(page session.Page) { p.visited = append(p.visited, page) }

func TestLoginUser_Success(t *testing.T) {
	api := &fakeAPI{token: "abc.def.ghi"}
	store := session.NewMemoryStore()
	nav := &pages{}

	res := NewLoginHandler(api, store, nav, nil).LoginUser(context.Background(),
		Values{FieldUsername: "alice", FieldPassword: "secret"})

	require.True(t, res.OK())
	token, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
	assert.Equal(t, []session.Page{session.PageChat}, nav.visited)
	assert.Equal(t, []Values{{FieldUsername: "alice", FieldPassword: "secret"}}, api.loginCalls)
}

func TestLoginUser_EmptyFieldsSubmittedAsIs(t *testing.T) {
	api := &fakeAPI{loginErr: &client.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid credentials"}}
	store := session.NewMemoryStore()

	res := NewLoginHandler(api, store, &pages{}, nil).LoginUser(context.Background(), Values{})

	assert.False(t, res.OK())
	require.Len(t, api.loginCalls, 1)
	assert.Equal(t, Values{FieldUsername: "", FieldPassword: ""}, api.loginCalls[0])
}

func TestLoginUser_FailureShowsDetailVerbatim(t *testing.T) {
	api := &fakeAPI{loginErr: &client.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid credentials"}}
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "previous"))
	nav := &pages{}

	res := NewLoginHandler(api, store, nav, nil).LoginUser(context.Background(),
		Values{FieldUsername: "alice", FieldPassword: "wrong"})

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "Invalid credentials", res.Message)
	assert.Empty(t, nav.visited)
	token, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "previous", token, "failed login must not touch the store")
	assert.Len(t, api.loginCalls, 1, "no retry")
}

func TestLoginUser_TransportErrorUsesErrorText(t *testing.T) {
	api := &fakeAPI{loginErr: errors.New("request failed: connection refused")}
	res := NewLoginHandler(api, session.NewMemoryStore(), &pages{}, nil).LoginUser(context.Background(), Values{})

	assert.False(t, res.OK())
	assert.Equal(t, "request failed: connection refused", res.Message)
}

func newGenerate(api API, store session.Store) (*GenerateHandler, *pages) {
	nav := &pages{}
	return NewGenerateHandler(api, session.NewGuard(store, nav, nil), nil), nav
}

func TestGenerateText_Success(t *testing.T) {
	api := &fakeAPI{output: "<i>Hello</i> & bye"}
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "tok"))
	h, nav := newGenerate(api, store)

	res := h.GenerateText(context.Background(), Values{FieldPrompt: "hi"})

	require.True(t, res.OK())
	assert.Equal(t, "<i>Hello</i> & bye", res.Output)
	assert.Equal(t, []string{"tok"}, api.genTokens)
	assert.Equal(t, []string{"hi"}, api.genCalls)
	assert.Empty(t, nav.visited)
}

func TestGenerateText_AnyFailureExpiresSession(t *testing.T) {
	failures := []error{
		&client.APIError{StatusCode: http.StatusUnauthorized, Detail: "Invalid or expired token"},
		&client.APIError{StatusCode: http.StatusForbidden, Detail: "Not authenticated"},
		&client.APIError{StatusCode: http.StatusInternalServerError, Detail: "boom"},
		&client.APIError{StatusCode: http.StatusTooManyRequests, Detail: "slow down"},
		errors.New("request failed: dial tcp"),
	}
	for _, cause := range failures {
		t.Run(cause.Error(), func(t *testing.T) {
			store := session.NewMemoryStore()
			require.NoError(t, store.Set(context.Background(), "tok"))
			h, nav := newGenerate(&fakeAPI{genErr: cause}, store)

			res := h.GenerateText(context.Background(), Values{FieldPrompt: "hi"})

			assert.Equal(t, StatusFailure, res.Status)
			assert.Equal(t, SessionExpiredMessage, res.Message)
			assert.ErrorIs(t, res.Err, cause)
			_, err := store.Get(context.Background())
			assert.ErrorIs(t, err, session.ErrNoCredential)
			assert.Equal(t, []session.Page{session.PageLogin}, nav.visited)
		})
	}
}

func TestGenerateText_NoCredentialSkipsNetwork(t *testing.T) {
	api := &fakeAPI{output: "unused"}
	h, nav := newGenerate(api, session.NewMemoryStore())

	res := h.GenerateText(context.Background(), Values{FieldPrompt: "hi"})

	assert.Equal(t, SessionExpiredMessage, res.Message)
	assert.ErrorIs(t, res.Err, session.ErrNoCredential)
	assert.Empty(t, api.genCalls)
	assert.Equal(t, []session.Page{session.PageLogin}, nav.visited)
}

func TestGenerateText_StrictExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("server error keeps credential", func(t *testing.T) {
		store := session.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "tok"))
		h, nav := newGenerate(&fakeAPI{genErr: &client.APIError{StatusCode: 502, Detail: "upstream failed"}}, store)
		h.ExpireOnlyOnUnauthorized = true

		res := h.GenerateText(ctx, Values{FieldPrompt: "hi"})

		assert.False(t, res.OK())
		assert.Equal(t, "upstream failed", res.Message)
		assert.Empty(t, nav.visited)
		token, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	})

	t.Run("unauthorized still expires", func(t *testing.T) {
		store := session.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "tok"))
		h, nav := newGenerate(&fakeAPI{genErr: &client.APIError{StatusCode: 401, Detail: "Invalid or expired token"}}, store)
		h.ExpireOnlyOnUnauthorized = true

		res := h.GenerateText(ctx, Values{FieldPrompt: "hi"})

		assert.Equal(t, SessionExpiredMessage, res.Message)
		assert.Equal(t, []session.Page{session.PageLogin}, nav.visited)
	})
}

func TestGenerateTextStream(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "tok"))
	api := &streamingAPI{fakeAPI: &fakeAPI{}, chunks: []string{"Hel", "lo"}}
	h, _ := newGenerate(api, store)

	var got []string
	res := h.GenerateTextStream(ctx, Values{FieldPrompt: "hi"}, func(s string) error {
		got = append(got, s)
		return nil
	})

	require.True(t, res.OK())
	assert.Equal(t, "Hello", res.Output)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestGenerateTextStream_FallsBackToSingleChunk(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "tok"))
	h, _ := newGenerate(&fakeAPI{output: "whole"}, store)

	var got []string
	res := h.GenerateTextStream(ctx, Values{FieldPrompt: "hi"}, func(s string) error {
		got = append(got, s)
		return nil
	})

	require.True(t, res.OK())
	assert.Equal(t, []string{"whole"}, got)
}

func TestGenerateTextStream_OutputFailureKeepsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Hello there"))
	}))
	defer server.Close()

	brokenPipe := errors.New("write |1: broken pipe")
	tests := []struct {
		name string
		api  API
	}{
		{"streaming client", ClientAPI{Client: client.New(server.URL)}},
		{"single chunk fallback", &fakeAPI{output: "Hello there"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := session.NewMemoryStore()
			require.NoError(t, store.Set(ctx, "tok"))
			h, nav := newGenerate(tt.api, store)

			res := h.GenerateTextStream(ctx, Values{FieldPrompt: "hi"}, func(string) error {
				return brokenPipe
			})

			assert.Equal(t, StatusFailure, res.Status)
			assert.NotEqual(t, SessionExpiredMessage, res.Message)
			assert.ErrorIs(t, res.Err, brokenPipe)
			var outErr *OutputError
			assert.ErrorAs(t, res.Err, &outErr)
			assert.Empty(t, nav.visited)
			token, err := store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok", token)
		})
	}
}

func TestLoginUser_EmptyTokenIsFailure(t *testing.T) {
	store := session.NewMemoryStore()
	nav := &pages{}

	res := NewLoginHandler(&fakeAPI{token: ""}, store, nav, nil).LoginUser(context.Background(),
		Values{FieldUsername: "alice", FieldPassword: "secret"})

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, MissingTokenMessage, res.Message)
	assert.Empty(t, nav.visited)
	_, err := store.Get(context.Background())
	assert.ErrorIs(t, err, session.ErrNoCredential)
}

func TestClientAPI_AgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case client.PathLogin:
			_, _ = w.Write([]byte(`{"access_token":"jwt","token_type":"bearer"}`))
		case client.PathGenerateText:
			if r.Header.Get("Authorization") != "Bearer jwt" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Invalid or expired token"}`))
				return
			}
			_, _ = w.Write([]byte(`{"response":"hi there"}`))
		}
	}))
	defer server.Close()

	ctx := context.Background()
	api := ClientAPI{Client: client.New(server.URL)}
	store := session.NewMemoryStore()
	nav := &pages{}

	login := NewLoginHandler(api, store, nav, nil).LoginUser(ctx, Values{FieldUsername: "a", FieldPassword: "b"})
	require.True(t, login.OK())

	gen := NewGenerateHandler(api, session.NewGuard(store, nav, nil), nil).GenerateText(ctx, Values{FieldPrompt: "hello"})
	require.True(t, gen.OK())
	assert.Equal(t, "hi there", gen.Output)
	assert.Equal(t, []session.Page{session.PageChat}, nav.visited)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "failure", StatusFailure.String())
}
