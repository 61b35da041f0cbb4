package lsp

import (
	"encoding/json"
	"fmt"
	"os"

	"go.lsp.dev/protocol"
)

const (
	// ClientName is reported to the server in clientInfo.
	ClientName = "lspharness"

	// ClientVersion is reported to the server in clientInfo.
	ClientVersion = "1.0.0"
)

// InitializeParamsBuilder builds the initialize request payload. The
// initialization options are a free-form tree so tests can edit a single
// nested option without restating the rest.
type InitializeParamsBuilder struct {
	params  protocol.InitializeParams
	options map[string]any
}

// NewInitializeParamsBuilder returns a builder with the default client
// capabilities and initialization options.
func NewInitializeParamsBuilder() *InitializeParamsBuilder {
	return &InitializeParamsBuilder{
		params: protocol.InitializeParams{
			ProcessID: int32(os.Getpid()),
			ClientInfo: &protocol.ClientInfo{
				Name:    ClientName,
				Version: ClientVersion,
			},
			Capabilities: protocol.ClientCapabilities{
				TextDocument: &protocol.TextDocumentClientCapabilities{
					CodeAction: &protocol.CodeActionClientCapabilities{
						CodeActionLiteralSupport: &protocol.CodeActionClientCapabilitiesLiteralSupport{
							CodeActionKind: &protocol.CodeActionClientCapabilitiesKind{
								ValueSet: []protocol.CodeActionKind{protocol.QuickFix, protocol.Refactor},
							},
						},
						IsPreferredSupport: true,
						DataSupport:        true,
						DisabledSupport:    true,
						ResolveSupport: &protocol.CodeActionClientCapabilitiesResolveSupport{
							Properties: []string{"edit"},
						},
					},
					Completion: &protocol.CompletionTextDocumentClientCapabilities{
						CompletionItem: &protocol.CompletionTextDocumentClientCapabilitiesItem{
							SnippetSupport: true,
						},
					},
					FoldingRange: &protocol.FoldingRangeClientCapabilities{
						LineFoldingOnly: true,
					},
					Synchronization: &protocol.TextDocumentSyncClientCapabilities{
						DynamicRegistration: true,
						WillSave:            true,
						WillSaveWaitUntil:   true,
						DidSave:             true,
					},
				},
				Workspace: &protocol.WorkspaceClientCapabilities{
					Configuration:    true,
					WorkspaceFolders: true,
				},
				Experimental: map[string]any{
					"testingApi": true,
				},
			},
		},
		options: defaultInitializationOptions(),
	}
}

func defaultInitializationOptions() map[string]any {
	return map[string]any{
		"enable":            true,
		"cache":             nil,
		"certificateStores": nil,
		"codeLens": map[string]any{
			"implementations": true,
			"references":      true,
			"test":            true,
		},
		"config":    nil,
		"importMap": nil,
		"lint":      true,
		"suggest": map[string]any{
			"autoImports":           true,
			"completeFunctionCalls": false,
			"names":                 true,
			"paths":                 true,
			"imports": map[string]any{
				"hosts": map[string]any{},
			},
		},
		"testing": map[string]any{
			"args":   []any{"--allow-all"},
			"enable": true,
		},
		"tlsCertificate":                  nil,
		"unsafelyIgnoreCertificateErrors": nil,
		"unstable":                        false,
	}
}

// SetRootURI sets rootUri.
func (b *InitializeParamsBuilder) SetRootURI(u protocol.DocumentURI) *InitializeParamsBuilder {
	b.params.RootURI = u
	return b
}

// SetWorkspaceFolders replaces workspaceFolders.
func (b *InitializeParamsBuilder) SetWorkspaceFolders(folders []protocol.WorkspaceFolder) *InitializeParamsBuilder {
	b.params.WorkspaceFolders = folders
	return b
}

// EnableInlayHints turns on every inlay hint category.
func (b *InitializeParamsBuilder) EnableInlayHints() *InitializeParamsBuilder {
	enabled := func() map[string]any { return map[string]any{"enabled": true} }
	b.options["inlayHints"] = map[string]any{
		"parameterNames":           map[string]any{"enabled": "all"},
		"parameterTypes":           enabled(),
		"variableTypes":            enabled(),
		"propertyDeclarationTypes": enabled(),
		"functionLikeReturnTypes":  enabled(),
		"enumMemberValues":         enabled(),
	}
	return b
}

// DisableTestingAPI clears the experimental testingApi capability and drops
// the testing options.
func (b *InitializeParamsBuilder) DisableTestingAPI() *InitializeParamsBuilder {
	experimental := map[string]any{}
	if current, ok := b.params.Capabilities.Experimental.(map[string]any); ok {
		experimental = cloneValue(current).(map[string]any)
	}
	experimental["testingApi"] = false
	b.params.Capabilities.Experimental = experimental
	delete(b.options, "testing")
	return b
}

// SetCache sets the cache option.
func (b *InitializeParamsBuilder) SetCache(path string) *InitializeParamsBuilder {
	return b.SetOption("cache", path)
}

// SetCodeLens replaces the codeLens options; nil removes them.
func (b *InitializeParamsBuilder) SetCodeLens(value map[string]any) *InitializeParamsBuilder {
	if value == nil {
		return b.RemoveOption("codeLens")
	}
	return b.SetOption("codeLens", value)
}

// SetConfig sets the config file option.
func (b *InitializeParamsBuilder) SetConfig(path string) *InitializeParamsBuilder {
	return b.SetOption("config", path)
}

// SetEnablePaths sets enablePaths.
func (b *InitializeParamsBuilder) SetEnablePaths(paths []string) *InitializeParamsBuilder {
	values := make([]any, len(paths))
	for i, p := range paths {
		values[i] = p
	}
	return b.SetOption("enablePaths", values)
}

// SetEnable toggles the server for the workspace.
func (b *InitializeParamsBuilder) SetEnable(enable bool) *InitializeParamsBuilder {
	return b.SetOption("enable", enable)
}

// SetImportMap sets the importMap option.
func (b *InitializeParamsBuilder) SetImportMap(path string) *InitializeParamsBuilder {
	return b.SetOption("importMap", path)
}

// SetTLSCertificate sets the tlsCertificate option.
func (b *InitializeParamsBuilder) SetTLSCertificate(path string) *InitializeParamsBuilder {
	return b.SetOption("tlsCertificate", path)
}

// SetUnstable sets the unstable option.
func (b *InitializeParamsBuilder) SetUnstable(unstable bool) *InitializeParamsBuilder {
	return b.SetOption("unstable", unstable)
}

// SetSuggestImportsHosts replaces suggest.imports.hosts.
func (b *InitializeParamsBuilder) SetSuggestImportsHosts(hosts map[string]bool) *InitializeParamsBuilder {
	values := make(map[string]any, len(hosts))
	for host, enabled := range hosts {
		values[host] = enabled
	}
	suggest := childMap(b.options, "suggest")
	imports := childMap(suggest, "imports")
	imports["hosts"] = values
	return b
}

// SetOption sets a top-level initialization option.
func (b *InitializeParamsBuilder) SetOption(key string, value any) *InitializeParamsBuilder {
	b.options[key] = value
	return b
}

// RemoveOption deletes a top-level initialization option.
func (b *InitializeParamsBuilder) RemoveOption(key string) *InitializeParamsBuilder {
	delete(b.options, key)
	return b
}

// WithInitializationOptions hands the options tree to fn for arbitrary edits.
func (b *InitializeParamsBuilder) WithInitializationOptions(fn func(options map[string]any)) *InitializeParamsBuilder {
	fn(b.options)
	return b
}

// WithCapabilities hands the client capabilities to fn for arbitrary edits.
func (b *InitializeParamsBuilder) WithCapabilities(fn func(caps *protocol.ClientCapabilities)) *InitializeParamsBuilder {
	fn(&b.params.Capabilities)
	return b
}

// Build returns the params. The options tree and the capabilities are
// deep-copied so later edits to the builder do not leak into a built value.
func (b *InitializeParamsBuilder) Build() protocol.InitializeParams {
	params := b.params
	params.Capabilities = cloneCapabilities(b.params.Capabilities)
	params.InitializationOptions = cloneValue(b.options)
	if b.params.ClientInfo != nil {
		info := *b.params.ClientInfo
		params.ClientInfo = &info
	}
	if b.params.WorkspaceFolders != nil {
		params.WorkspaceFolders = append([]protocol.WorkspaceFolder(nil), b.params.WorkspaceFolders...)
	}
	return params
}

// childMap returns m[key] as a map, creating or replacing it when missing.
func childMap(m map[string]any, key string) map[string]any {
	child, ok := m[key].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[key] = child
	}
	return child
}

// cloneCapabilities copies the typed capability tree through JSON. The
// experimental value goes through cloneValue to keep its Go types.
func cloneCapabilities(caps protocol.ClientCapabilities) protocol.ClientCapabilities {
	experimental := caps.Experimental
	caps.Experimental = nil

	data, err := json.Marshal(caps)
	if err != nil {
		panic(fmt.Sprintf("lsp: client capabilities are not serializable: %v", err))
	}
	var out protocol.ClientCapabilities
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("lsp: client capabilities do not round trip: %v", err))
	}
	out.Experimental = cloneValue(experimental)
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
