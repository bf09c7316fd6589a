package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledgerchat/internal/core"
	"ledgerchat/internal/history"
)

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"model": "test-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
	return string(b)
}

func TestOpenAIExtract(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(chatResponse("```json\n{\"commands\":[{\"intent\":\"UNDO\"}]}\n```")))
	}))
	defer srv.Close()

	p := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "m1"})
	ext, err := p.Extract(context.Background(), Request{
		Utterance:       "undo",
		Today:           core.NewDate(2026, 1, 21),
		DefaultCurrency: "EUR",
		Categories:      []string{"Food", "Travel"},
		RecentRecords:   []RecentRecord{{ID: 4, Description: "Taxi"}},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(ext.Raw) != `{"commands":[{"intent":"UNDO"}]}` || ext.Model != "test-model" {
		t.Errorf("unexpected extraction: %s (%s)", ext.Raw, ext.Model)
	}
	if got.Model != "m1" || got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("unexpected request: %+v", got)
	}
	system := got.Messages[0].Content
	for _, want := range []string{"2026-01-21", "Wednesday", "Food, Travel", "#4: Taxi", "EUR"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimit},
		{"server error", http.StatusBadGateway, `oops`, ErrUpstream},
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`, ErrUpstream},
		{"not json", http.StatusOK, `<html>`, ErrMalformedOutput},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrMalformedOutput},
		{"content not json", http.StatusOK, chatResponse("sure, here you go"), ErrMalformedOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := p.Extract(context.Background(), Request{Utterance: "x"})
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenAITimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClassifier(NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond}))
	_, err := c.Classify(context.Background(), "lunch 15", testContext)
	if !errors.Is(err, &core.ClassificationError{Kind: core.KindTransient}) {
		t.Fatalf("expected TRANSIENT, got %v", err)
	}
}

func TestOpenAISendsHistory(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(chatResponse(`{"commands":[{"intent":"EDIT_EXPENSE","slots":{"record_ref":"#5","amount":"20"}}]}`)))
	}))
	defer srv.Close()

	p := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Extract(context.Background(), Request{
		Utterance: "change it to 20",
		Today:     core.NewDate(2026, 1, 21),
		History: []history.Turn{
			{Role: history.RoleUser, Text: "Taxi 18"},
			{Role: history.RoleAssistant, Text: "Saved: 2026-01-21 #5 Taxi 18.00 EUR (Transport)"},
			{Role: history.RoleAssistant},
		},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []oaiMessage{
		{Role: "user", Content: "Taxi 18"},
		{Role: "assistant", Content: "Saved: 2026-01-21 #5 Taxi 18.00 EUR (Transport)"},
		{Role: "user", Content: "change it to 20"},
	}
	if len(got.Messages) != len(want)+1 || got.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i, m := range want {
		if got.Messages[i+1] != m {
			t.Errorf("message %d = %+v, want %+v", i+1, got.Messages[i+1], m)
		}
	}
}
