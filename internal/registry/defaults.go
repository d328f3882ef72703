// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import "github.com/temnoon/humanizer-ai/internal/provider"

// BuiltInClasses returns the capability seeds created at first config
// creation. Built-ins can be overwritten by admin operations but never
// removed. Model ids here are configuration data, not contract.
func BuiltInClasses() []ModelClass {
	return []ModelClass{
		{
			ID:          "chat",
			Name:        "General Chat",
			Description: "Open-ended conversation and question answering",
			Category:    CategoryText,
			Preferences: []ModelPreference{
				{ModelID: "llama3.1:8b", Provider: provider.TypeOllama, Priority: 1},
				{ModelID: "gpt-4o-mini", Provider: provider.TypeOpenAI, Priority: 2},
				{ModelID: "claude-3-5-haiku-latest", Provider: provider.TypeAnthropic, Priority: 3},
			},
			Temperature: 0.7,
			MaxTokens:   2048,
			SafetyLevel: SafetyStandard,
			BuiltIn:     true,
			Version:     SchemaVersion,
		},
		{
			ID:          "translation",
			Name:        "Translation",
			Description: "Translate text between languages",
			Category:    CategoryText,
			Preferences: []ModelPreference{
				{ModelID: "gpt-4o-mini", Provider: provider.TypeOpenAI, Priority: 1},
				{ModelID: "qwen2.5:14b", Provider: provider.TypeOllama, Priority: 2},
			},
			PromptPrefix: "Translate the following text. Preserve tone and formatting.",
			Temperature:  0.3,
			MaxTokens:    4096,
			SafetyLevel:  SafetyStandard,
			BuiltIn:      true,
			Version:      SchemaVersion,
		},
		{
			ID:          "coding",
			Name:        "Code Assistance",
			Description: "Code generation, review, and explanation",
			Category:    CategoryText,
			Preferences: []ModelPreference{
				{ModelID: "qwen2.5-coder:14b", Provider: provider.TypeOllama, Priority: 1},
				{ModelID: "claude-sonnet-4-20250514", Provider: provider.TypeAnthropic, Priority: 2},
				{ModelID: "gpt-4o", Provider: provider.TypeOpenAI, Priority: 3},
			},
			Temperature: 0.2,
			MaxTokens:   8192,
			SafetyLevel: SafetyRelaxed,
			BuiltIn:     true,
			Version:     SchemaVersion,
		},
		{
			ID:          "summarization",
			Name:        "Summarization",
			Description: "Condense long text into summaries",
			Category:    CategoryText,
			Preferences: []ModelPreference{
				{ModelID: "llama3.1:8b", Provider: provider.TypeOllama, Priority: 1},
				{ModelID: "gpt-4o-mini", Provider: provider.TypeOpenAI, Priority: 2,
					Conditions: []Condition{{Kind: CondMinInputTokens, Tokens: 8000}}},
			},
			Temperature: 0.4,
			MaxTokens:   1024,
			SafetyLevel: SafetyStandard,
			BuiltIn:     true,
			Version:     SchemaVersion,
		},
		{
			ID:          "vision",
			Name:        "Image Analysis",
			Description: "Describe and analyze images",
			Category:    CategoryVision,
			Preferences: []ModelPreference{
				{ModelID: "llava:13b", Provider: provider.TypeOllama, Priority: 1},
				{ModelID: "gpt-4o", Provider: provider.TypeOpenAI, Priority: 2},
			},
			Temperature: 0.5,
			MaxTokens:   2048,
			SafetyLevel: SafetyStandard,
			BuiltIn:     true,
			Version:     SchemaVersion,
		},
		{
			ID:          "embedding",
			Name:        "Text Embedding",
			Description: "Produce embedding vectors for similarity search",
			Category:    CategoryEmbedding,
			Preferences: []ModelPreference{
				{ModelID: "nomic-embed-text", Provider: provider.TypeOllama, Priority: 1},
				{ModelID: "text-embedding-3-small", Provider: provider.TypeOpenAI, Priority: 2},
			},
			SafetyLevel: SafetyRelaxed,
			BuiltIn:     true,
			Version:     SchemaVersion,
		},
	}
}
