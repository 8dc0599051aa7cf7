package erniebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatCompletion_AIStudio(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"logId":"l1","errorCode":0,"errorMsg":"success","result":{"id":"as-1","result":"你好","usage":{"prompt_tokens":2,"completion_tokens":3,"total_tokens":5}}}`)
	}))
	defer server.Close()

	client := NewClient(WithAIStudioBaseURL(server.URL))
	temp := 0.5
	resp, err := client.ChatCompletion(context.Background(), Config{APIType: APITypeAIStudio, AccessToken: "abc"}, ChatRequest{
		Model:       "ernie-4.0",
		Messages:    []map[string]any{{"role": "user", "content": "hi"}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	require.Equal(t, "/chat/completions_pro", gotPath)
	require.Equal(t, "token abc", gotAuth)
	require.Equal(t, 0.5, gotBody["temperature"])
	require.NotContains(t, gotBody, "stream")
	require.Equal(t, "你好", resp.Result)
	require.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestChatCompletion_UnwrappedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"as-2","result":"plain"}`)
	}))
	defer server.Close()

	client := NewClient(WithAIStudioBaseURL(server.URL))
	resp, err := client.ChatCompletion(context.Background(), Config{AccessToken: "abc"}, ChatRequest{Model: "ernie-3.5"})
	require.NoError(t, err)
	require.Equal(t, "plain", resp.Result)
}

func TestChatCompletion_MissingToken(t *testing.T) {
	client := NewClient()

	_, err := client.ChatCompletion(context.Background(), Config{APIType: APITypeAIStudio}, ChatRequest{Model: "ernie-3.5"})
	require.ErrorIs(t, err, ErrMissingAccessToken)

	_, err = client.ChatCompletion(context.Background(), Config{APIType: APITypeQianfan, AK: "ak"}, ChatRequest{Model: "ernie-3.5"})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestChatCompletion_UnsupportedModel(t *testing.T) {
	client := NewClient()

	_, err := client.ChatCompletion(context.Background(), Config{AccessToken: "abc"}, ChatRequest{Model: "gpt-4"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported model")
}

func TestChatCompletion_Errors(t *testing.T) {
	tests := []struct {
		name      string
		apiType   string
		status    int
		body      string
		wantCode  int
		retryable bool
	}{
		{
			name:      "qianfan rate limit with 200",
			apiType:   APITypeQianfan,
			status:    http.StatusOK,
			body:      `{"error_code":18,"error_msg":"Open api qps request limit reached"}`,
			wantCode:  CodeQPSLimitReached,
			retryable: true,
		},
		{
			name:     "aistudio envelope error",
			apiType:  APITypeAIStudio,
			status:   http.StatusOK,
			body:     `{"logId":"x","errorCode":336003,"errorMsg":"invalid argument","result":null}`,
			wantCode: 336003,
		},
		{
			name:      "plain http failure",
			apiType:   APITypeQianfan,
			status:    http.StatusBadGateway,
			body:      `upstream down`,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(WithAIStudioBaseURL(server.URL), WithQianfanBaseURL(server.URL))
			_, err := client.ChatCompletion(context.Background(), Config{APIType: tt.apiType, AccessToken: "tok"}, ChatRequest{Model: "ernie-3.5"})

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "error %v is not *APIError", err)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantCode, apiErr.Code)
			require.Equal(t, tt.retryable, apiErr.Retryable())
		})
	}
}

func TestQianfanTokenExchange(t *testing.T) {
	var exchanges, calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/2.0/token":
			n := atomic.AddInt32(&exchanges, 1)
			q := r.URL.Query()
			if q.Get("grant_type") != "client_credentials" || q.Get("client_id") != "my-ak" || q.Get("client_secret") != "my-sk" {
				t.Errorf("token query = %s", r.URL.RawQuery)
			}
			fmt.Fprintf(w, `{"access_token":"24.token-%d","expires_in":2592000}`, n)
		case "/chat/completions":
			atomic.AddInt32(&calls, 1)
			if r.URL.Query().Get("access_token") == "" {
				t.Error("missing access_token query")
			}
			if r.Header.Get("Authorization") != "" {
				t.Error("qianfan call should not send an Authorization header")
			}
			fmt.Fprint(w, `{"id":"q-1","result":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(WithQianfanBaseURL(server.URL), WithTokenURL(server.URL+"/oauth/2.0/token"))
	cfg := Config{APIType: APITypeQianfan, AK: "my-ak", SK: "my-sk"}

	for i := 0; i < 3; i++ {
		resp, err := client.ChatCompletion(context.Background(), cfg, ChatRequest{Model: "ernie-3.5"})
		require.NoError(t, err)
		require.Equal(t, "ok", resp.Result)
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&exchanges), "token should be exchanged once and cached")
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestQianfanTokenRefreshOnExpiry(t *testing.T) {
	var exchanges int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			n := atomic.AddInt32(&exchanges, 1)
			fmt.Fprintf(w, `{"access_token":"24.token-%d","expires_in":3600}`, n)
		case "/chat/eb-instant":
			if r.URL.Query().Get("access_token") == "24.token-1" {
				fmt.Fprint(w, `{"error_code":111,"error_msg":"Access token expired"}`)
				return
			}
			fmt.Fprint(w, `{"id":"q-2","result":"fresh"}`)
		}
	}))
	defer server.Close()

	client := NewClient(WithQianfanBaseURL(server.URL), WithTokenURL(server.URL+"/token"))
	resp, err := client.ChatCompletion(context.Background(), Config{APIType: APITypeQianfan, AK: "ak", SK: "sk"}, ChatRequest{Model: "ernie-turbo"})
	require.NoError(t, err)
	require.Equal(t, "fresh", resp.Result)
	require.EqualValues(t, 2, atomic.LoadInt32(&exchanges))
}

func TestQianfanExplicitTokenNotRefreshed(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`)
	}))
	defer server.Close()

	client := NewClient(WithQianfanBaseURL(server.URL))
	_, err := client.ChatCompletion(context.Background(), Config{APIType: APITypeQianfan, AccessToken: "24.stale"}, ChatRequest{Model: "ernie-3.5"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.TokenExpired())
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestChatCompletionWithPlugins(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"id":"p-1","result":"done","plugin_info":[{"plugin_name":"x"}],"plugin_metas":[{"pluginNameForModel":"ChatFile"},{"pluginNameForModel":"eChart"}]}`)
	}))
	defer server.Close()

	client := NewClient(WithAIStudioBaseURL(server.URL))
	resp, err := client.ChatCompletionWithPlugins(context.Background(), Config{AccessToken: "abc"}, PluginRequest{
		Messages:  []map[string]any{{"role": "user", "content": "chart"}},
		Plugins:   []string{"eChart"},
		ExtraData: `{"multi_step_tool_call_close":true}`,
	})
	require.NoError(t, err)

	require.Equal(t, "/erniebot/plugins", gotPath)
	require.Equal(t, []any{"eChart"}, gotBody["plugins"])
	require.Equal(t, `{"multi_step_tool_call_close":true}`, gotBody["extra_data"])
	require.True(t, resp.HasPluginInfo())
	require.Len(t, resp.PluginMetas, 2)
	require.Equal(t, "eChart", resp.PluginMetas[1].PluginNameForModel)
}

func TestChatCompletionStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("stream = %v, want true", body["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"sentence_id\":0,\"result\":\"床前\",\"is_end\":false}\n\n")
		fmt.Fprint(w, "data: {\"sentence_id\":1,\"result\":\"明月光\",\"is_end\":false}\n\n")
		fmt.Fprint(w, "data: {\"sentence_id\":2,\"result\":\"。\",\"is_end\":true,\"usage\":{\"total_tokens\":9}}\n\n")
	}))
	defer server.Close()

	client := NewClient(WithQianfanBaseURL(server.URL))
	stream, err := client.ChatCompletionStream(context.Background(), Config{APIType: APITypeQianfan, AccessToken: "24.x"}, ChatRequest{Model: "ernie-3.5"})
	require.NoError(t, err)
	defer stream.Close()

	var parts []string
	var last *Response
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, resp.Result)
		last = resp
	}

	require.Equal(t, []string{"床前", "明月光", "。"}, parts)
	require.True(t, last.IsEnd)
	require.Equal(t, 9, last.Usage.TotalTokens)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestChatCompletionStream_ErrorFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"sentence_id\":0,\"result\":\"a\"}\n\n")
		fmt.Fprint(w, "data: {\"error_code\":336100,\"error_msg\":\"try again later\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(WithAIStudioBaseURL(server.URL))
	stream, err := client.ChatCompletionStream(context.Background(), Config{AccessToken: "abc"}, ChatRequest{Model: "ernie-3.5"})
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "a", first.Result)

	_, err = stream.Recv()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 336100, apiErr.Code)
}

func TestChatCompletionStream_JSONAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"s-1","result":"whole","is_end":true}`)
	}))
	defer server.Close()

	client := NewClient(WithAIStudioBaseURL(server.URL))
	stream, err := client.ChatCompletionWithPluginsStream(context.Background(), Config{AccessToken: "abc"}, PluginRequest{Plugins: []string{"eChart"}})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "whole", resp.Result)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestSearchResults(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"result":"x","search_info":{"search_results":[{"index":1,"url":"https://a.example","title":"A"}]}}`), &resp))
	require.True(t, resp.HasSearchInfo())

	results, err := resp.SearchResults()
	require.NoError(t, err)
	require.Equal(t, []SearchResult{{Index: 1, URL: "https://a.example", Title: "A"}}, results)

	var empty Response
	require.NoError(t, json.Unmarshal([]byte(`{"result":"x","search_info":{}}`), &empty))
	require.False(t, empty.HasSearchInfo())
}

func TestNewClient_TimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{}

	for _, opts := range [][]ClientOption{
		{WithHTTPClient(shared), WithTimeout(3 * time.Second)},
		{WithTimeout(3 * time.Second), WithHTTPClient(shared)},
	} {
		c := NewClient(opts...)
		require.Equal(t, 3*time.Second, c.httpClient.Timeout)
		require.NotSame(t, shared, c.httpClient)
	}
	require.Zero(t, shared.Timeout)

	require.Equal(t, DefaultTimeout, NewClient().httpClient.Timeout)
}
