package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantKind EventKind
		wantErr  bool
	}{
		{
			name:     "token",
			data:     `{"requestId":"abc","type":"token","content":"Hel"}`,
			wantKind: KindToken,
		},
		{
			name:     "complete with stats",
			data:     `{"requestId":"abc","type":"complete","eval_count":12,"eval_duration":450000000,"total_duration":500000000}`,
			wantKind: KindComplete,
		},
		{
			name:     "error",
			data:     `{"requestId":"abc","type":"error","content":"Failed to load model: llama3.2"}`,
			wantKind: KindError,
		},
		{
			name:     "models payload is terminal",
			data:     `{"requestId":"abc","type":"models","data":[{"name":"llama3.2","size":1024,"family":"llama"}]}`,
			wantKind: KindComplete,
		},
		{
			name:     "unknown type is terminal",
			data:     `{"requestId":"abc","type":"mystery"}`,
			wantKind: KindComplete,
		},
		{
			name:    "missing type",
			data:    `{"requestId":"abc"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			data:    `{"requestId":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeEvent() expected error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent() unexpected error: %v", err)
			}
			if ev.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", ev.Kind(), tt.wantKind)
			}
			if ev.Terminal() != (tt.wantKind != KindToken) {
				t.Errorf("Terminal() = %v for kind %v", ev.Terminal(), tt.wantKind)
			}
		})
	}
}

func TestDecodeEvent_Stats(t *testing.T) {
	data := `{"requestId":"r1","type":"complete","eval_count":2,"eval_duration":100,"total_duration":200,"prompt_eval_count":5}`

	ev, err := DecodeEvent([]byte(data))
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}

	if ev.EvalCount != 2 {
		t.Errorf("EvalCount = %d, want 2", ev.EvalCount)
	}
	if ev.EvalDuration != 100 {
		t.Errorf("EvalDuration = %d, want 100", ev.EvalDuration)
	}
	if ev.TotalDuration != 200 {
		t.Errorf("TotalDuration = %d, want 200", ev.TotalDuration)
	}
	if ev.PromptEvalCount != 5 {
		t.Errorf("PromptEvalCount = %d, want 5", ev.PromptEvalCount)
	}
}

func TestRequestMarshal_OmitsEmptyFields(t *testing.T) {
	req := Request{
		RequestID: "r1",
		Action:    ActionGenerate,
		Model:     "llama3.2",
		Prompt:    "Hi",
		Stream:    true,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	s := string(data)
	for _, absent := range []string{"messages", "temperature", "max_tokens", "seed"} {
		if strings.Contains(s, absent) {
			t.Errorf("marshaled request contains %q: %s", absent, s)
		}
	}
	if !strings.Contains(s, `"requestId":"r1"`) {
		t.Errorf("marshaled request missing requestId: %s", s)
	}
	if !strings.Contains(s, `"stream":true`) {
		t.Errorf("marshaled request missing stream flag: %s", s)
	}
}

func TestRequestMarshal_ChatMessages(t *testing.T) {
	temp := 0.7
	req := Request{
		RequestID: "r2",
		Action:    ActionChat,
		Model:     "llama3.2",
		Messages: []Message{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: "Hello!"},
		},
		Temperature: &temp,
		MaxTokens:   128,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if back["action"] != "chat" {
		t.Errorf("action = %v, want chat", back["action"])
	}
	msgs, ok := back["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", back["messages"])
	}
	if back["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", back["temperature"])
	}
}
