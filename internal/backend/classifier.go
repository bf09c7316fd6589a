package backend

import (
	"context"
	"time"

	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
	"ledgerchat/internal/nlp"
)

// ClassifierConfig selects the language provider. An empty APIKey selects
// the offline rule-based provider.
type ClassifierConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	DefaultCurrency string
	Taxonomy        *core.Taxonomy
}

// Classifier builds the classifier for cfg.
func (f *Factory) Classifier(ctx context.Context, cfg ClassifierConfig) *nlp.Classifier {
	var p nlp.Provider = nlp.Rules{}
	if cfg.APIKey != "" {
		p = nlp.NewOpenAI(nlp.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		f.logger.InfoContext(ctx, "Using LLM classifier", "model", cfg.Model, "base_url", cfg.BaseURL)
	} else {
		f.logger.WarnContext(ctx, "No LLM API key configured, using rule-based classifier", log.FieldComponent, log.ComponentNLP)
	}
	return nlp.NewClassifier(p, nlp.Options{
		Taxonomy:        cfg.Taxonomy,
		DefaultCurrency: cfg.DefaultCurrency,
	})
}
