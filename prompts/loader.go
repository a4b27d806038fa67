// Package prompts holds the model prompts and outbound email templates.
package prompts

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// PromptKey is a type for identifying specific prompts.
type PromptKey string

const (
	// KeyInterpretReply is the reply classification prompt.
	KeyInterpretReply PromptKey = "InterpretReply"
	// KeyAssistant is the chat front-end system prompt.
	KeyAssistant PromptKey = "Assistant"
)

// promptConfig defines the default content and filename for a prompt.
type promptConfig struct {
	defaultContent string
	filename       string
}

var promptRegistry = map[PromptKey]promptConfig{
	KeyInterpretReply: {
		defaultContent: InterpretReplySystemPrompt,
		filename:       "interpret_reply_prompt.txt",
	},
	KeyAssistant: {
		defaultContent: AssistantSystemPrompt,
		filename:       "assistant_prompt.txt",
	},
}

// GetPrompt returns the prompt for key, preferring an override file in
// templatesDir when one exists.
func GetPrompt(key PromptKey, templatesDir string) (string, error) {
	config, ok := promptRegistry[key]
	if !ok {
		return "", fmt.Errorf("unrecognized prompt key: %s", key)
	}
	if strings.TrimSpace(templatesDir) == "" {
		return config.defaultContent, nil
	}

	customPromptPath := filepath.Join(templatesDir, config.filename)
	content, err := os.ReadFile(customPromptPath)
	switch {
	case err == nil:
		slog.Debug("using custom prompt", "path", customPromptPath)
		return string(content), nil
	case os.IsNotExist(err):
		return config.defaultContent, nil
	default:
		return "", fmt.Errorf("read custom prompt file at %s: %w", customPromptPath, err)
	}
}

// Render executes the prompt for key with data.
func Render(key PromptKey, templatesDir string, data any) (string, error) {
	raw, err := GetPrompt(key, templatesDir)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(string(key)).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", key, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return buf.String(), nil
}
