package protocol

import "encoding/json"

// Position, Range and friends mirror the LSP wire shapes used by both
// the initialize handshake and the document-sync notifications the
// session sends. Adapted from the teacher's internal/lsp/types.go.

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// WorkspaceFolder is comparable by value: two folders are equal iff all
// fields are equal (spec.md §3).
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
	Path string `json:"-"`
}

// ClientInfo identifies this client implementation to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the full payload sent with the "initialize"
// request, matching every field enumerated in spec.md §6.
type InitializeParams struct {
	ProcessID             *int               `json:"processId"`
	ClientInfo            ClientInfo         `json:"clientInfo"`
	RootURI               *string            `json:"rootUri"`
	RootPath              *string            `json:"rootPath"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions json.RawMessage    `json:"initializationOptions,omitempty"`
}

type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

type TextDocumentClientCapabilities struct {
	Synchronization    SynchronizationCapabilities    `json:"synchronization"`
	Hover              HoverCapabilities              `json:"hover"`
	Completion         CompletionCapabilities         `json:"completion"`
	SignatureHelp      SignatureHelpCapabilities      `json:"signatureHelp"`
	References         struct{}                       `json:"references"`
	DocumentHighlight  struct{}                       `json:"documentHighlight"`
	DocumentSymbol     DocumentSymbolCapabilities     `json:"documentSymbol"`
	Formatting         struct{}                       `json:"formatting"`
	RangeFormatting    struct{}                       `json:"rangeFormatting"`
	Declaration        LinkSupportCapability          `json:"declaration"`
	Definition         LinkSupportCapability          `json:"definition"`
	TypeDefinition     LinkSupportCapability          `json:"typeDefinition"`
	Implementation     LinkSupportCapability          `json:"implementation"`
	CodeAction         CodeActionCapabilities         `json:"codeAction"`
	Rename             struct{}                       `json:"rename"`
	ColorProvider      struct{}                       `json:"colorProvider"`
	PublishDiagnostics PublishDiagnosticsCapabilities `json:"publishDiagnostics"`
}

type SynchronizationCapabilities struct {
	DidSave           bool `json:"didSave"`
	WillSave          bool `json:"willSave"`
	WillSaveWaitUntil bool `json:"willSaveWaitUntil"`
}

type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat"`
}

type CompletionCapabilities struct {
	CompletionItem     CompletionItemCapabilities `json:"completionItem"`
	CompletionItemKind ValueSetCapability         `json:"completionItemKind"`
}

type CompletionItemCapabilities struct {
	SnippetSupport     bool `json:"snippetSupport"`
	DeprecatedSupport  bool `json:"deprecatedSupport"`
}

type SignatureHelpCapabilities struct {
	SignatureInformation SignatureInformationCapabilities `json:"signatureInformation"`
}

type SignatureInformationCapabilities struct {
	DocumentationFormat  []string                    `json:"documentationFormat"`
	ParameterInformation ParameterInformationCapability `json:"parameterInformation"`
}

type ParameterInformationCapability struct {
	LabelOffsetSupport bool `json:"labelOffsetSupport"`
}

type DocumentSymbolCapabilities struct {
	SymbolKind ValueSetCapability `json:"symbolKind"`
}

type ValueSetCapability struct {
	ValueSet []int `json:"valueSet"`
}

type LinkSupportCapability struct {
	LinkSupport bool `json:"linkSupport"`
}

type CodeActionCapabilities struct {
	CodeActionLiteralSupport CodeActionLiteralSupport `json:"codeActionLiteralSupport"`
}

type CodeActionLiteralSupport struct {
	CodeActionKind ValueSetStringCapability `json:"codeActionKind"`
}

type ValueSetStringCapability struct {
	ValueSet []string `json:"valueSet"`
}

type PublishDiagnosticsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
}

type WorkspaceClientCapabilities struct {
	ApplyEdit             bool               `json:"applyEdit"`
	DidChangeConfiguration struct{}          `json:"didChangeConfiguration"`
	ExecuteCommand        struct{}           `json:"executeCommand"`
	WorkspaceFolders      bool               `json:"workspaceFolders"`
	Symbol                DocumentSymbolCapabilities `json:"symbol"`
	Configuration         bool               `json:"configuration"`
}

// DefaultClientCapabilities returns the fixed capability advertisement
// sent on every initialize request, per spec.md §6.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		TextDocument: TextDocumentClientCapabilities{
			Synchronization: SynchronizationCapabilities{DidSave: true, WillSave: true, WillSaveWaitUntil: true},
			Hover:           HoverCapabilities{ContentFormat: []string{"markdown", "plaintext"}},
			Completion: CompletionCapabilities{
				CompletionItem:     CompletionItemCapabilities{SnippetSupport: true, DeprecatedSupport: true},
				CompletionItemKind: ValueSetCapability{ValueSet: completionItemKinds()},
			},
			SignatureHelp: SignatureHelpCapabilities{
				SignatureInformation: SignatureInformationCapabilities{
					DocumentationFormat:  []string{"markdown", "plaintext"},
					ParameterInformation: ParameterInformationCapability{LabelOffsetSupport: true},
				},
			},
			DocumentSymbol: DocumentSymbolCapabilities{SymbolKind: ValueSetCapability{ValueSet: symbolKinds()}},
			Declaration:    LinkSupportCapability{LinkSupport: true},
			Definition:     LinkSupportCapability{LinkSupport: true},
			TypeDefinition: LinkSupportCapability{LinkSupport: true},
			Implementation: LinkSupportCapability{LinkSupport: true},
			CodeAction: CodeActionCapabilities{
				CodeActionLiteralSupport: CodeActionLiteralSupport{
					CodeActionKind: ValueSetStringCapability{ValueSet: []string{}},
				},
			},
			PublishDiagnostics: PublishDiagnosticsCapabilities{RelatedInformation: true},
		},
		Workspace: WorkspaceClientCapabilities{
			ApplyEdit:        true,
			WorkspaceFolders: true,
			Symbol:           DocumentSymbolCapabilities{SymbolKind: ValueSetCapability{ValueSet: symbolKinds()}},
			Configuration:    true,
		},
	}
}

func symbolKinds() []int {
	kinds := make([]int, 26)
	for i := range kinds {
		kinds[i] = i + 1
	}
	return kinds
}

func completionItemKinds() []int {
	kinds := make([]int, 25)
	for i := range kinds {
		kinds[i] = i + 1
	}
	return kinds
}

// InitializeResult is the "initialize" response payload.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
}
