package main

// Run the generation pipeline once against the configured provider:
//   go run ./cmd/prompttest -guidelines brand.md -intent "launch day" -platform linkedin -feedback "shorter"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/critique"
	"brandpost-backend/internal/extract"
	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/llm/mock"
	openai "brandpost-backend/internal/llm/openai"
	"brandpost-backend/internal/shared/config"
	"brandpost-backend/internal/variations"
)

type feedbackList []string

func (f *feedbackList) String() string { return strings.Join(*f, ",") }

func (f *feedbackList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

type report struct {
	Profile    *brand.Profile       `json:"profile"`
	Batch      variations.Batch     `json:"batch"`
	Selected   int                  `json:"selected"`
	Iterations []critique.Record    `json:"iterations,omitempty"`
	Final      variations.Variation `json:"final"`
}

func main() {
	cfg := config.Load()

	guidelinesPath := flag.String("guidelines", "", "Path to brand guidelines (pdf, docx, md or txt)")
	websitePath := flag.String("website", "", "Path to website copy (optional)")
	intent := flag.String("intent", "", "What the post should be about")
	platform := flag.String("platform", "linkedin", "linkedin, instagram or both")
	pick := flag.Int("select", 0, "Index of the variation to refine")
	outPath := flag.String("out", "", "Path to write the JSON report (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	var feedback feedbackList
	flag.Var(&feedback, "feedback", "Feedback to apply; repeat for multiple rounds")
	flag.Parse()

	if strings.TrimSpace(*intent) == "" {
		exitErr("intent is required")
	}
	if strings.TrimSpace(*guidelinesPath) == "" && strings.TrimSpace(*websitePath) == "" {
		exitErr("guidelines or website path is required")
	}

	ctx := context.Background()
	src := brand.Sources{}
	if *guidelinesPath != "" {
		src.Guidelines = readSource(ctx, *guidelinesPath)
	}
	if *websitePath != "" {
		src.WebsiteText = readSource(ctx, *websitePath)
	}

	cat, err := catalog.Default()
	if err != nil {
		exitErr(fmt.Sprintf("catalog: %v", err))
	}
	gen, err := buildGateway(*provider, *model, cfg)
	if err != nil {
		exitErr(err.Error())
	}

	profile, err := brand.NewAnalyzer(gen, brand.WithDefaultFallback(false)).Analyze(ctx, src)
	if err != nil {
		exitErr(fmt.Sprintf("analyze brand: %v", err))
	}

	p, err := variations.ParsePlatform(*platform)
	if err != nil {
		exitErr(err.Error())
	}
	batch, err := variations.NewGenerator(gen, cat).Generate(ctx, variations.Request{
		Intent:   *intent,
		Platform: p,
		Profile:  profile,
	})
	if err != nil {
		exitErr(fmt.Sprintf("generate variations: %v", err))
	}
	if *pick < 0 || *pick >= len(batch.Variations) {
		exitErr(fmt.Sprintf("select must be between 0 and %d", len(batch.Variations)-1))
	}

	loop, err := critique.NewLoop(critique.Deps{Generator: gen, Catalog: cat, MaxIterations: cfg.RefineMaxIters}, batch.Variations[*pick], profile, p)
	if err != nil {
		exitErr(fmt.Sprintf("start loop: %v", err))
	}
	for _, fb := range feedback {
		if _, err := loop.Submit(ctx, fb); err != nil {
			exitErr(fmt.Sprintf("feedback %q: %v", fb, err))
		}
	}

	out := report{
		Profile:    profile,
		Batch:      batch,
		Selected:   batch.Variations[*pick].ID,
		Iterations: loop.History(),
		Final:      loop.Current(),
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}
	pretty = append(pretty, '\n')

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
}

func readSource(ctx context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		exitErr(fmt.Sprintf("read %s: %v", path, err))
	}
	text, err := extract.ExtractTextFromBytes(ctx, data, mimeFromExt(path), filepath.Base(path))
	if err != nil {
		exitErr(fmt.Sprintf("extract %s: %v", path, err))
	}
	return text
}

func buildGateway(provider, model string, cfg config.Config) (*llm.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "mock":
		return llm.NewGateway(mock.Capability{}), nil
	case "", "openai":
		client, err := openai.NewClient(cfg.OpenAIAPIKey, model, cfg.OpenAIBaseURL, cfg.OpenAITimeout)
		if err != nil {
			return nil, err
		}
		return llm.NewGateway(client, llm.WithTimeout(cfg.OpenAITimeout)), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
