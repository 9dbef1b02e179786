// cmd/importexter/main.go
package main

import (
	"fmt"
	"os"

	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	verbose := hasFlag("-v") || hasFlag("--verbose")
	level := "warn"
	if verbose {
		level = "debug"
	}
	if err := utils.InitLogger(utils.LoggerConfig{Level: level}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.SyncLogger()

	args := positional(os.Args[2:])
	var err error

	switch command := os.Args[1]; command {
	case "validate":
		if len(args) < 1 {
			usageError("validate <source.yaml|dir>")
		}
		err = validateSources(args[0], verbose)

	case "discover":
		if len(args) < 2 {
			usageError("discover <source.yaml> <listing-url>")
		}
		err = discover(args[0], args[1])

	case "crawl":
		if len(args) < 2 {
			usageError("crawl <source.yaml> <url> [url...]")
		}
		err = crawl(args[0], args[1:])

	case "test-selector":
		if len(args) < 2 {
			usageError("test-selector <url> <selector>")
		}
		err = testSelector(args[0], args[1])

	case "template":
		var tmpl string
		tmpl, err = generateTemplate(os.Args[2:])
		if err == nil {
			fmt.Print(tmpl)
		}

	case "serve":
		err = serve(flagValue("--config"))

	case "version", "--version":
		printVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err, verbose))
		utils.SyncLogger()
		os.Exit(errors.ExitCode(err))
	}
}

func usageError(usage string) {
	fmt.Fprintf(os.Stderr, "Error: missing arguments\n")
	fmt.Fprintf(os.Stderr, "Usage: importexter %s\n", usage)
	os.Exit(1)
}

// hasFlag checks if a flag is present in command line arguments
func hasFlag(flag string) bool {
	for _, arg := range os.Args {
		if arg == flag {
			return true
		}
	}
	return false
}

// flagValue returns the argument following flag, or "".
func flagValue(flag string) string {
	for i, arg := range os.Args {
		if arg == flag && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return ""
}

// positional drops flags and the values of flags that take one.
func positional(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--config" || a == "--type" || a == "--output" || a == "-o":
			i++
		case len(a) > 0 && a[0] == '-':
		default:
			out = append(out, a)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("Importexter - content import pipeline for articles and products")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  importexter validate <source.yaml|dir>          Validate source definitions")
	fmt.Println("  importexter discover <source.yaml> <url>       List detail URLs found on a listing page")
	fmt.Println("  importexter crawl <source.yaml> <url...>       Fetch and extract pages without importing")
	fmt.Println("  importexter test-selector <url> <selector>     Show what a CSS selector matches")
	fmt.Println("  importexter template [--type <type>]           Generate a source template")
	fmt.Println("  importexter serve [--config <settings.yaml>]   Start the admin API")
	fmt.Println("  importexter version                            Show version information")
	fmt.Println("  importexter help                               Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -v, --verbose                                  Enable verbose output")
	fmt.Println("  -o, --output <file>                            Write crawl results to a file")
	fmt.Println()
	fmt.Println("Template types:")
	fmt.Println("  article     News article source (default)")
	fmt.Println("  product     E-commerce product source")
}

func printVersion() {
	fmt.Printf("Importexter %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
