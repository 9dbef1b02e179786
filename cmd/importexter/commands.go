package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// signalContext is canceled on interrupt so long crawls stop between pages.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func validateSources(path string, verbose bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(errors.KindConfigValidation, err, "cannot read %s", path)
	}

	if info.IsDir() {
		registry := config.NewRegistry(config.WithRegistryLogger(utils.NewNopLogger()))
		loaded, errs := registry.LoadDir(path)
		for _, e := range errs {
			fmt.Fprintf(stdout, "✗ %v\n", e)
		}
		fmt.Fprintf(stdout, "%d valid, %d invalid\n", loaded, len(errs))
		if len(errs) > 0 {
			return errors.New(errors.KindConfigValidation, "%d source definitions are invalid", len(errs))
		}
		return nil
	}

	src, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(stdout, "Source details:\n")
		fmt.Fprintf(stdout, "  ID: %s\n", src.ID)
		fmt.Fprintf(stdout, "  Name: %s\n", src.Name)
		fmt.Fprintf(stdout, "  Base URL: %s\n", src.BaseURL)
		fmt.Fprintf(stdout, "  Kind: %s\n", src.Kind)
		fmt.Fprintf(stdout, "  Category mappings: %d\n", len(src.CategoryMappings))
	}
	fmt.Fprintf(stdout, "✓ Source '%s' is valid\n", src.ID)
	for _, w := range src.Warnings() {
		fmt.Fprintf(stdout, "  ⚠ %v\n", w)
	}
	return nil
}

func newCLIFetcher() *scraper.HTTPClient {
	return scraper.NewHTTPClient(scraper.ClientConfig{
		RetryAttempts: 1,
		Logger:        utils.NewComponentLogger("fetcher"),
	})
}

func discover(sourceFile, listingURL string) error {
	src, err := config.LoadFromFile(sourceFile)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	d := scraper.NewDiscoverer(newCLIFetcher(), nil, utils.NewComponentLogger("discovery"))
	candidates, err := d.DiscoverSource(ctx, src, listingURL)
	for _, c := range candidates {
		if c.Title != "" {
			fmt.Fprintf(stdout, "%s\t%s\n", c.URL, c.Title)
		} else {
			fmt.Fprintln(stdout, c.URL)
		}
	}
	if err != nil && len(candidates) == 0 {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ discovery stopped early: %v\n", err)
	}
	return nil
}

type crawlResult struct {
	URL    string          `json:"url"`
	Record *scraper.Record `json:"record,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// crawl fetches and extracts each URL, printing records as JSON. Nothing is
// written to the catalog.
func crawl(sourceFile string, urls []string) error {
	src, err := config.LoadFromFile(sourceFile)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	fetcher := newCLIFetcher()
	extractor := scraper.NewExtractor(scraper.NewImageResolver(nil, nil, nil), nil, utils.NewComponentLogger("extractor"))

	results := make([]crawlResult, 0, len(urls))
	failed := 0
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		res := crawlResult{URL: u}
		page, err := fetcher.Fetch(ctx, scraper.RequestFor(src, u))
		if err == nil {
			res.Record, err = extractor.Extract(ctx, page.FinalURL, page.Body, src)
		}
		if err != nil {
			res.Error = err.Error()
			failed++
		}
		results = append(results, res)
	}

	if err := writeResults(results, flagValue("--output"), flagValue("-o")); err != nil {
		return err
	}
	if failed == len(urls) {
		return errors.New(errors.KindInternal, "all %d pages failed", failed)
	}
	return nil
}

func writeResults(results []crawlResult, files ...string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := os.WriteFile(f, data, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		fmt.Fprintf(stdout, "Results saved to %s\n", f)
		return nil
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func testSelector(pageURL, selector string) error {
	ctx, cancel := signalContext()
	defer cancel()

	diag := scraper.NewDiagnostics(newCLIFetcher(), config.RequestPolicy{})
	match, err := diag.TestSelector(ctx, pageURL, selector)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d match(es) for %q\n", match.Count, selector)
	for i, t := range match.Texts {
		fmt.Fprintf(stdout, "  [%d] %s\n", i+1, utils.TruncateString(t, 120))
	}
	for _, img := range match.Images {
		fmt.Fprintf(stdout, "  image: %s\n", img)
	}
	return nil
}

func generateTemplate(args []string) (string, error) {
	templateType := "article"
	for i, a := range args {
		if a == "--type" && i+1 < len(args) {
			templateType = args[i+1]
		}
	}
	switch templateType {
	case "article", "news", "product", "ecommerce":
	default:
		return "", errors.New(errors.KindConfigValidation, "unknown template type %q", templateType)
	}
	if templateType == "ecommerce" {
		templateType = "product"
	}

	tmpl := config.GenerateTemplate(templateType)
	data, err := yaml.Marshal(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	return string(data), nil
}
