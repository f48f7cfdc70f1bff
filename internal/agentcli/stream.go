package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// PermissionDenial is a tool invocation the agent's permission system
// refused.
type PermissionDenial struct {
	Tool  string
	Input string
}

func (d PermissionDenial) String() string {
	if d.Input != "" {
		return fmt.Sprintf("%s(%s)", d.Tool, d.Input)
	}
	return d.Tool
}

// StreamResult is the parsed output of one stream-json agent invocation.
type StreamResult struct {
	Text              string
	PermissionDenials []PermissionDenial
	CostUSD           float64
	SessionID         string
}

// processStream reads stream-json lines from stdout, mirrors assistant text
// to display+log, and extracts the terminal result event.
func processStream(ctx context.Context, stdout io.Reader, display, logFile io.Writer) (*StreamResult, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	var result StreamResult
	var textBuf strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			return &result, ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "stream_event":
			handleStreamEvent(&event, &textBuf, display, logFile)
		case "result":
			handleResultEvent(&event, &result)
		}
	}

	if err := scanner.Err(); err != nil {
		return &result, fmt.Errorf("reading stream: %w", err)
	}

	result.Text = textBuf.String()
	return &result, nil
}

type streamEvent struct {
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
	CostUSD   float64         `json:"cost_usd"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type nestedEvent struct {
	Type         string        `json:"type"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *deltaBlock   `json:"delta"`
}

type deltaBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resultPayload struct {
	PermissionDenials []permDenialEntry `json:"permission_denials"`
	CostUSD           float64           `json:"cost_usd"`
	SessionID         string            `json:"session_id"`
}

type permDenialEntry struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input"`
}

func handleStreamEvent(event *streamEvent, textBuf *strings.Builder, display, logFile io.Writer) {
	if event.Event == nil {
		return
	}
	var nested nestedEvent
	if err := json.Unmarshal(event.Event, &nested); err != nil {
		return
	}
	if nested.Type == "content_block_delta" && nested.Delta != nil && nested.Delta.Type == "text_delta" {
		textBuf.WriteString(nested.Delta.Text)
		if display != nil {
			fmt.Fprint(display, nested.Delta.Text)
		}
		if logFile != nil {
			fmt.Fprint(logFile, nested.Delta.Text)
		}
	}
}

func handleResultEvent(event *streamEvent, result *StreamResult) {
	if event.Result != nil {
		var payload resultPayload
		if err := json.Unmarshal(event.Result, &payload); err == nil {
			result.CostUSD = payload.CostUSD
			result.SessionID = payload.SessionID
			for _, d := range payload.PermissionDenials {
				result.PermissionDenials = append(result.PermissionDenials, PermissionDenial{Tool: d.ToolName, Input: d.Input})
			}
			return
		}
	}
	if event.CostUSD > 0 {
		result.CostUSD = event.CostUSD
	}
	if event.SessionID != "" {
		result.SessionID = event.SessionID
	}
}
