package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/lspharness/internal/cli/config"
	"github.com/conduit-lang/lspharness/internal/cli/ui"
	"github.com/conduit-lang/lspharness/internal/lsp"
	"github.com/conduit-lang/lspharness/internal/utils"
	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProbeReport is what probe prints
type ProbeReport struct {
	Server   string       `json:"server" yaml:"server"`
	Version  string       `json:"version,omitempty" yaml:"version,omitempty"`
	Root     string       `json:"root" yaml:"root"`
	Duration string       `json:"duration" yaml:"duration"`
	Files    []FileReport `json:"files" yaml:"files"`
}

// FileReport holds the diagnostics published for one file
type FileReport struct {
	Path        string             `json:"path" yaml:"path"`
	Diagnostics []DiagnosticReport `json:"diagnostics" yaml:"diagnostics"`
}

// DiagnosticReport is a single diagnostic with a 1-based position
type DiagnosticReport struct {
	Line     uint32 `json:"line" yaml:"line"`
	Column   uint32 `json:"column" yaml:"column"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

type probeOptions struct {
	configPath string
	output     string
	exts       []string
	verbose    bool
	noColor    bool
}

// NewProbeCommand creates the probe command
func NewProbeCommand() *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe [files or directories...]",
		Short: "Open files in a language server and report its diagnostics",
		Long: `Start the language server from lspharness.yaml, run the initialize
handshake, open each file and wait for its publishDiagnostics notification,
then shut the server down cleanly. Directories are searched recursively
for files matching --ext.

Example lspharness.yaml:

  server:
    command: deno
    args: [lsp]
  client:
    timeout: 10s
  initialization_options:
    lint: true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ./lspharness.yaml)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().StringSliceVar(&opts.exts, "ext", nil, "File extensions to open from directories (default: all files)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log protocol traffic to stderr")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runProbe(cmd *cobra.Command, files []string, opts *probeOptions) error {
	switch opts.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", opts.output)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err, opts.noColor))
		return &reportedError{err: err}
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := Probe(ctx, cfg, files, opts.exts, logger)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ServerError(err, opts.noColor))
		return &reportedError{err: err}
	}

	return writeReport(cmd.OutOrStdout(), report, opts.output, opts.noColor)
}

// Probe runs one session against the configured server: initialize, open
// every file and collect its diagnostics, then shutdown and exit. Relative
// paths are resolved against the server's working directory.
func Probe(ctx context.Context, cfg *config.Config, paths, exts []string, logger *zap.Logger) (*ProbeReport, error) {
	root := cfg.Server.Dir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootURI := uri.File(root)

	resolved := make([]string, len(paths))
	for i, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		resolved[i] = p
	}
	files, err := utils.ExpandFiles(resolved, exts)
	if err != nil {
		return nil, err
	}

	builder := lsp.NewClientBuilder(cfg.Server.Command).
		Args(cfg.Server.Args...).
		Dir(root).
		Logger(logger).
		RootURI(rootURI).
		MaxFrameSize(cfg.Client.MaxFrameSize)
	keys := make([]string, 0, len(cfg.Server.Env))
	for key := range cfg.Server.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.Env(key, cfg.Server.Env[key])
	}
	if cfg.Client.PrintStderr {
		builder.PrintStderr()
	}

	client, err := builder.Build()
	if err != nil {
		return nil, err
	}

	report, err := probeSession(ctx, client, cfg, root, files)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := withTimeout(ctx, cfg.Client.Timeout, "shutdown", client.Shutdown); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Close(); err != nil {
		return nil, err
	}
	report.Duration = client.Duration().Round(time.Millisecond).String()
	return report, nil
}

func probeSession(ctx context.Context, client *lsp.Client, cfg *config.Config, root string, files []string) (*ProbeReport, error) {
	var result *protocol.InitializeResult
	err := withTimeout(ctx, cfg.Client.Timeout, "initialize", func() error {
		var err error
		result, err = client.Initialize(func(b *lsp.InitializeParamsBuilder) {
			b.SetWorkspaceFolders([]protocol.WorkspaceFolder{{
				URI:  string(uri.File(root)),
				Name: filepath.Base(root),
			}})
			for key, value := range cfg.InitializationOptions {
				b.SetOption(key, value)
			}
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &ProbeReport{
		Server: cfg.Server.Command,
		Root:   root,
		Files:  []FileReport{},
	}
	if result.ServerInfo != nil {
		report.Server = result.ServerInfo.Name
		report.Version = result.ServerInfo.Version
	}

	for _, file := range files {
		fileReport, err := probeFile(ctx, client, cfg, root, file)
		if err != nil {
			return nil, err
		}
		report.Files = append(report.Files, *fileReport)
	}
	return report, nil
}

func probeFile(ctx context.Context, client *lsp.Client, cfg *config.Config, root, path string) (*FileReport, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	doc := uri.File(path)
	err = client.WriteNotification(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        doc,
			LanguageID: protocol.LanguageIdentifier(languageID(path, cfg.Client.LanguageID)),
			Version:    1,
			Text:       string(text),
		},
	})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Client.Timeout)
	defer cancel()

	var params protocol.PublishDiagnosticsParams
	for {
		params = protocol.PublishDiagnosticsParams{}
		if err := client.WaitNotification(waitCtx, protocol.MethodTextDocumentPublishDiagnostics, &params); err != nil {
			return nil, fmt.Errorf("no diagnostics for %s: %w", rel, err)
		}
		// servers may publish for other documents first
		if params.URI == doc {
			break
		}
	}

	err = client.WriteNotification(protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: doc},
	})
	if err != nil {
		return nil, err
	}

	report := &FileReport{Path: rel, Diagnostics: []DiagnosticReport{}}
	for _, d := range params.Diagnostics {
		report.Diagnostics = append(report.Diagnostics, DiagnosticReport{
			Line:     d.Range.Start.Line + 1,
			Column:   d.Range.Start.Character + 1,
			Severity: severityName(d.Severity),
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return report, nil
}

// withTimeout runs fn and gives up after timeout. A request the server never
// answers leaves fn blocked for good, so the session must be torn down after
// a timeout.
func withTimeout(ctx context.Context, timeout time.Duration, what string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s: no response after %s", what, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

var languageIDs = map[string]string{
	".go":   "go",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".json": "json",
	".md":   "markdown",
	".py":   "python",
	".rs":   "rust",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".yaml": "yaml",
	".yml":  "yaml",
}

func languageID(path, fallback string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return fallback
}

func severityName(s protocol.DiagnosticSeverity) string {
	if s == 0 {
		return ""
	}
	return strings.ToLower(s.String())
}

func writeReport(w io.Writer, report *ProbeReport, format string, noColor bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()

	default:
		kv := ui.NewKeyValueTable(w, noColor)
		server := report.Server
		if report.Version != "" {
			server += " " + report.Version
		}
		kv.AddRow("Server", server)
		kv.AddRow("Root", report.Root)
		kv.AddRow("Duration", report.Duration)
		kv.Render()
		fmt.Fprintln(w)

		table := ui.NewTable(w, []string{"File", "Position", "Severity", "Source", "Message"}, &ui.TableOptions{NoColor: noColor})
		table.ColorColumn(2, ui.SeverityColor)
		clean := 0
		for _, file := range report.Files {
			if len(file.Diagnostics) == 0 {
				clean++
			}
			for _, d := range file.Diagnostics {
				pos := strconv.FormatUint(uint64(d.Line), 10) + ":" + strconv.FormatUint(uint64(d.Column), 10)
				table.AddRow(file.Path, pos, d.Severity, d.Source, d.Message)
			}
		}
		if table.Len() > 0 {
			table.Render()
			fmt.Fprintln(w)
		}
		ui.WriteSuccess(w, fmt.Sprintf("%d file(s) probed, %d diagnostic(s), %d clean", len(report.Files), table.Len(), clean), noColor)
		return nil
	}
}
