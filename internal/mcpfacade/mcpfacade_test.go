package mcpfacade

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomkit/compileworker/internal/requestqueue"
)

func TestParseStageRecognizesAllFour(t *testing.T) {
	cases := map[string]requestqueue.Stage{
		"parsed":   requestqueue.Parsed,
		"resolved": requestqueue.Resolved,
		"typed":    requestqueue.Typed,
		"errors":   requestqueue.Errors,
	}
	for name, want := range cases {
		got, ok := parseStage(name)
		if !ok || got != want {
			t.Errorf("parseStage(%q) = %v, %v; want %v, true", name, got, ok, want)
		}
	}
	if _, ok := parseStage("bogus"); ok {
		t.Error("parseStage(\"bogus\") should report false")
	}
}

func TestJSONResultMarshalsContent(t *testing.T) {
	res, err := jsonResult(map[string]interface{}{"ok": true})
	if err != nil {
		t.Fatalf("jsonResult() error = %v", err)
	}
	if res.IsError {
		t.Error("jsonResult() should not set IsError")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Content[0] = %T, want *mcp.TextContent", res.Content[0])
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &decoded); err != nil {
		t.Fatalf("failed to decode result JSON: %v", err)
	}
	if decoded["ok"] != true {
		t.Errorf("decoded = %v, want ok=true", decoded)
	}
}

func TestErrorResultSetsIsErrorAndIncludesMessage(t *testing.T) {
	res, err := errorResult("update_file", errors.New("boom"))
	if err != nil {
		t.Fatalf("errorResult() error = %v", err)
	}
	if !res.IsError {
		t.Error("errorResult() should set IsError")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Content[0] = %T, want *mcp.TextContent", res.Content[0])
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &decoded); err != nil {
		t.Fatalf("failed to decode error JSON: %v", err)
	}
	if decoded["operation"] != "update_file" || decoded["error"] != "boom" {
		t.Errorf("decoded = %v", decoded)
	}
}
