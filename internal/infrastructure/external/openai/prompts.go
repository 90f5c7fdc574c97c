package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompts and model parameters used by the receipt classifier
type PromptConfig struct {
	ReceiptCheck PromptSpec `yaml:"receipt_check"`
}

// PromptSpec is one chat prompt
type PromptSpec struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	MaxTextChars int     `yaml:"max_text_chars"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// DefaultPrompts is used when no prompts file is configured
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		ReceiptCheck: PromptSpec{
			Temperature:  0,
			MaxTokens:    512,
			MaxTextChars: 12000,
			System: "You are a fair auditor agent. Decide whether a receipt looks genuine or suspicious. " +
				"A genuine receipt typically has a vendor name, date, items or description, amount, and some form of receipt identifier. " +
				"Use only the provided text and metadata. Be reasonable in your assessment. " +
				"Block ONLY if the receipt clearly says 'sample', 'demo', 'test', 'mock', 'draft', 'template', or 'for reference only', or shows obvious signs of forgery. " +
				"Block if the extracted amount is drastically different (200%+ mismatch) from the claimed amount. " +
				"Otherwise allow genuine-looking receipts. Minor formatting or incomplete fields are normal. " +
				"Return ONLY strict JSON with the schema " +
				`{"decision": "allow"|"block"|"review", "risk_level": "low"|"medium"|"high", "reasons": string[], "extracted_total_amount_guess": number|null}.`,
			UserTemplate: "Task: receipt_genuineness_check\n" +
				"Metadata: {{.Metadata}}\n" +
				"Receipt text:\n{{.ReceiptText}}",
		},
	}
}

// LoadPrompts loads prompt configuration from a YAML file. Fields missing
// from the file keep their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	prompts := DefaultPrompts()
	if promptsPath == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	if _, err := template.New("receipt_check").Parse(prompts.ReceiptCheck.UserTemplate); err != nil {
		return nil, fmt.Errorf("invalid receipt_check.user_template: %w", err)
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
