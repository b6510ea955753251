package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

var ErrUnknownFile = errors.New("file not loaded")

// DisplayPart is one styled fragment of a quick info signature
type DisplayPart struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// QuickInfo describes the symbol under a cursor position
type QuickInfo struct {
	Kind         string        `json:"kind"`
	Name         string        `json:"name"`
	Start        int           `json:"start"`
	Length       int           `json:"length"`
	DisplayParts []DisplayPart `json:"displayParts"`
}

// Declaration is a top-level binding found in a file
type Declaration struct {
	Kind   string   // const, let, var, function, class
	Name   string
	Params []string // function parameters
	Type   string   // inferred from the initializer, may be empty
	Super  string   // class heritage, may be empty
}

// Analyzer answers information queries from the top-level declarations of
// loaded files. Sources goja cannot parse directly (JSX, TypeScript) are
// first reduced to JavaScript with the transformer.
type Analyzer struct {
	transformer Transformer

	mu    sync.RWMutex
	files map[string]string
	libs  []string
	types []string
}

// NewAnalyzer creates an analyzer. transformer may be nil, in which case
// only plain JavaScript is understood.
func NewAnalyzer(transformer Transformer) *Analyzer {
	return &Analyzer{
		transformer: transformer,
		files:       make(map[string]string),
	}
}

// SetLibs records the library and type package names in use
func (a *Analyzer) SetLibs(libs, types []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.libs = append([]string(nil), libs...)
	a.types = append([]string(nil), types...)
}

// Libs returns the recorded library names
func (a *Analyzer) Libs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.libs...)
}

// UpdateFile replaces the source of filename
func (a *Analyzer) UpdateFile(filename, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[filename] = code
}

// Files returns the loaded filenames, sorted
func (a *Analyzer) Files() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.files))
	for name := range a.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QuickInfo describes the identifier at position, a zero-based byte offset.
// A position that is not on an identifier, or an identifier with no
// top-level declaration, yields info with no display parts.
func (a *Analyzer) QuickInfo(filename string, position int) (*QuickInfo, error) {
	a.mu.RLock()
	code, ok := a.files[filename]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}

	start, name := wordAt(code, position)
	info := &QuickInfo{Name: name, Start: start, Length: len(name), DisplayParts: []DisplayPart{}}
	if name == "" {
		return info, nil
	}

	decls, err := a.Declarations(filename)
	if err != nil {
		return nil, err
	}

	for _, decl := range decls {
		if decl.Name == name {
			info.Kind = decl.Kind
			info.DisplayParts = displayParts(decl)
			break
		}
	}
	return info, nil
}

// Declarations lists the top-level declarations of filename in source order
func (a *Analyzer) Declarations(filename string) ([]Declaration, error) {
	a.mu.RLock()
	code, ok := a.files[filename]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}

	program, err := parser.ParseFile(nil, filename, code, 0)
	if err != nil && a.transformer != nil {
		stripped, terr := a.transformer.Transform(filename, code, Options{})
		if terr != nil {
			return nil, terr
		}
		program, err = parser.ParseFile(nil, filename, stripped, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	return collectDeclarations(program), nil
}

func collectDeclarations(program *ast.Program) []Declaration {
	var decls []Declaration

	for _, stmt := range program.Body {
		switch s := stmt.(type) {
		case *ast.VariableStatement:
			decls = append(decls, bindings("var", s.List)...)
		case *ast.LexicalDeclaration:
			decls = append(decls, bindings(s.Token.String(), s.List)...)
		case *ast.FunctionDeclaration:
			if s.Function != nil && s.Function.Name != nil {
				decls = append(decls, Declaration{
					Kind:   "function",
					Name:   string(s.Function.Name.Name),
					Params: params(s.Function.ParameterList),
				})
			}
		case *ast.ClassDeclaration:
			if s.Class != nil && s.Class.Name != nil {
				decl := Declaration{Kind: "class", Name: string(s.Class.Name.Name)}
				if super, ok := s.Class.SuperClass.(*ast.Identifier); ok {
					decl.Super = string(super.Name)
				}
				decls = append(decls, decl)
			}
		}
	}

	return decls
}

func bindings(kind string, list []*ast.Binding) []Declaration {
	var decls []Declaration
	for _, binding := range list {
		ident, ok := binding.Target.(*ast.Identifier)
		if !ok {
			continue
		}
		decl := Declaration{Kind: kind, Name: string(ident.Name)}
		switch init := binding.Initializer.(type) {
		case *ast.FunctionLiteral:
			decl.Params = params(init.ParameterList)
			decl.Type = "function"
		case *ast.ArrowFunctionLiteral:
			decl.Params = params(init.ParameterList)
			decl.Type = "function"
		default:
			decl.Type = literalType(init)
		}
		decls = append(decls, decl)
	}
	return decls
}

func params(list *ast.ParameterList) []string {
	if list == nil {
		return nil
	}
	names := make([]string, 0, len(list.List))
	for _, binding := range list.List {
		if ident, ok := binding.Target.(*ast.Identifier); ok {
			names = append(names, string(ident.Name))
		} else {
			names = append(names, "_")
		}
	}
	if rest, ok := list.Rest.(*ast.Identifier); ok {
		names = append(names, "..."+string(rest.Name))
	}
	return names
}

func literalType(expr ast.Expression) string {
	switch expr.(type) {
	case *ast.NumberLiteral:
		return "number"
	case *ast.StringLiteral, *ast.TemplateLiteral:
		return "string"
	case *ast.BooleanLiteral:
		return "boolean"
	case *ast.ArrayLiteral:
		return "any[]"
	case *ast.ObjectLiteral:
		return "object"
	case *ast.ClassLiteral:
		return "class"
	case *ast.NullLiteral:
		return "null"
	default:
		return ""
	}
}

// displayParts renders decl the way editors show hover signatures
func displayParts(decl Declaration) []DisplayPart {
	parts := []DisplayPart{
		{Text: decl.Kind, Kind: "keyword"},
		{Text: " ", Kind: "space"},
	}

	switch {
	case decl.Kind == "class":
		parts = append(parts, DisplayPart{Text: decl.Name, Kind: "className"})
		if decl.Super != "" {
			parts = append(parts,
				DisplayPart{Text: " ", Kind: "space"},
				DisplayPart{Text: "extends", Kind: "keyword"},
				DisplayPart{Text: " ", Kind: "space"},
				DisplayPart{Text: decl.Super, Kind: "className"},
			)
		}
	case decl.Kind == "function" || decl.Type == "function":
		nameKind := "functionName"
		if decl.Kind != "function" {
			nameKind = "localName"
		}
		parts = append(parts, DisplayPart{Text: decl.Name, Kind: nameKind}, DisplayPart{Text: "(", Kind: "punctuation"})
		for i, param := range decl.Params {
			if i > 0 {
				parts = append(parts, DisplayPart{Text: ",", Kind: "punctuation"}, DisplayPart{Text: " ", Kind: "space"})
			}
			parts = append(parts, DisplayPart{Text: param, Kind: "parameterName"})
		}
		parts = append(parts, DisplayPart{Text: ")", Kind: "punctuation"})
	default:
		parts = append(parts, DisplayPart{Text: decl.Name, Kind: "localName"})
		if decl.Type != "" {
			parts = append(parts,
				DisplayPart{Text: ":", Kind: "punctuation"},
				DisplayPart{Text: " ", Kind: "space"},
				DisplayPart{Text: decl.Type, Kind: "keyword"},
			)
		}
	}

	return parts
}

// wordAt returns the identifier covering position and its start offset
func wordAt(code string, position int) (int, string) {
	if position < 0 || position >= len(code) || !isIdentByte(code[position]) {
		return position, ""
	}

	start, end := position, position
	for start > 0 && isIdentByte(code[start-1]) {
		start--
	}
	for end < len(code) && isIdentByte(code[end]) {
		end++
	}

	// identifiers cannot start with a digit
	if code[start] >= '0' && code[start] <= '9' {
		return position, ""
	}
	return start, code[start:end]
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
