package sandbox

import (
	"path"
	"sort"
	"strings"
)

// ResolutionKind says which branch satisfied a require call
type ResolutionKind int

const (
	ResolvedCapability ResolutionKind = iota
	ResolvedFile
	ResolvedAsset
	ResolvedVendorValue
	ResolvedVendorSource
)

// String returns the string representation of the kind
func (k ResolutionKind) String() string {
	switch k {
	case ResolvedCapability:
		return "capability"
	case ResolvedFile:
		return "file"
	case ResolvedAsset:
		return "asset"
	case ResolvedVendorValue:
		return "vendor-value"
	case ResolvedVendorSource:
		return "vendor-source"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving one specifier
type Resolution struct {
	Kind ResolutionKind
	Name string // filename, vendor name or capability name
	URI  string // set for assets
}

// AssetDescriptor is returned for relative requires that match no file
type AssetDescriptor struct {
	URI string `json:"uri"`
}

// Resolve decides how specifier, required from requester, is satisfied.
// It reads only ctx and the runtime configuration and never evaluates code.
func (r *Runtime) Resolve(ctx *EvaluationContext, specifier, requester string) (Resolution, error) {
	if r.env != nil && r.env.HasModule(specifier) {
		return Resolution{Kind: ResolvedCapability, Name: specifier}, nil
	}

	if isRelative(specifier) {
		lookup := path.Join(path.Dir(requester), specifier)

		filename, ok := findFile(ctx.Files, lookup)
		if !ok {
			return Resolution{
				Kind: ResolvedAsset,
				Name: specifier,
				URI:  assetURI(r.config.AssetRoot, specifier),
			}, nil
		}

		if filename == ctx.Entry {
			return Resolution{}, &CyclicEntryError{Entry: ctx.Entry, Requester: requester}
		}

		return Resolution{Kind: ResolvedFile, Name: filename}, nil
	}

	if _, ok := r.vendor.Value(specifier); ok {
		return Resolution{Kind: ResolvedVendorValue, Name: specifier}, nil
	}
	if _, ok := r.vendor.Source(specifier); ok {
		return Resolution{Kind: ResolvedVendorSource, Name: specifier}, nil
	}

	return Resolution{}, &ModuleNotFoundError{Specifier: specifier, Requester: requester}
}

// isRelative reports whether specifier starts with ./ or ../
func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

// findFile matches lookup against filenames, first by full name, then with
// the extension stripped. Ties between extensions go to the smallest name.
func findFile(files map[string]string, lookup string) (string, bool) {
	if _, ok := files[lookup]; ok {
		return lookup, true
	}

	var candidates []string
	for name := range files {
		if ext := path.Ext(name); ext != "" && strings.TrimSuffix(name, ext) == lookup {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Strings(candidates)
	return candidates[0], true
}

func assetURI(root, specifier string) string {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root + specifier
}
