package executor

import (
	"bytes"
	"encoding/json"

	"github.com/ShayCichocki/accord/pkg/models"
)

// resultEnvelope matches the JSON result object agent CLIs emit on stdout
// (claude --output-format json and compatible workers).
type resultEnvelope struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	Usage  struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// parseEnvelope tries to interpret stdout as a result envelope: either the
// whole stream is one JSON object, or the last non-empty line is (the
// stream-json case, where earlier lines are progress events).
func parseEnvelope(stdout []byte) (resultEnvelope, bool) {
	var env resultEnvelope

	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return env, false
	}
	if json.Unmarshal(trimmed, &env) == nil && (env.Result != "" || env.Usage.InputTokens > 0) {
		return env, true
	}

	lines := bytes.Split(trimmed, []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		env = resultEnvelope{}
		if json.Unmarshal(line, &env) == nil && (env.Result != "" || env.Usage.InputTokens > 0) {
			return env, true
		}
		break
	}
	return resultEnvelope{}, false
}

// reportedUsage converts an envelope's token counts.
func reportedUsage(env resultEnvelope) models.Usage {
	return models.Usage{
		InputTokens:  env.Usage.InputTokens,
		OutputTokens: env.Usage.OutputTokens,
	}
}

// estimateUsage derives soft token counts from content length when the
// worker reported none. Roughly four bytes per token.
func estimateUsage(prompt, output string) models.Usage {
	return models.Usage{
		InputTokens:  int64(len(prompt) / 4),
		OutputTokens: int64(len(output) / 4),
		Estimated:    true,
	}
}
