package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/config"
)

// New builds the generator and classifier for the configured provider.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (Generator, Classifier, error) {
	camp := cfg.Campaign
	sender := Sender{Name: camp.Sender.Name, Company: camp.Sender.Company, Role: camp.Sender.Role}

	var completer Completer
	switch cfg.Generator.Provider {
	case "gemini":
		c, err := NewGeminiCompleter(ctx, cfg.Generator.GeminiAPIKey, cfg.Generator.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	case "bedrock":
		c, err := NewBedrockCompleter(ctx, cfg.Generator.AWSRegion, cfg.Generator.BedrockModel)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	case "template":
		gen := &TemplateGenerator{Sender: sender, CalendarLink: camp.CalendarLink}
		return gen, &KeywordClassifier{Stop: NewStopPhraseDetector(camp.StopPhrases)}, nil
	default:
		return nil, nil, fmt.Errorf("unknown generator provider %q", cfg.Generator.Provider)
	}

	llm := NewLLMGenerator(completer, sender, camp.CalendarLink, log)
	return llm, llm, nil
}
