package resolver

import (
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/log"
)

// Flags control how a virtual path is turned into a resolved path.
type Flags uint32

const (
	// Real skips alias, mod and game folder expansion.
	Real Flags = 1 << iota
	// AddTrailingSlash terminates the result with a separator.
	AddTrailingSlash
	// NoFullPath leaves the result relative to the base path.
	NoFullPath
	// ForWriting places the result below the write root instead of the base path.
	ForWriting
	// NoLowerCase keeps the caller's casing.
	NoLowerCase
	// CheckModPaths probes the registered mod roots before the game folder.
	CheckModPaths
)

// LanguageAlias expands to the current localization folder.
const LanguageAlias = "%language%"

// ProbeFunc reports whether a fully resolved path exists, on disk or in a mounted pack.
type ProbeFunc func(fullPath string) bool

// Alias maps a leading path segment to a replacement.
type Alias struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// State is the persistable part of a resolver.
type State struct {
	GameFolder   string   `json:"game_folder"`
	Localization string   `json:"localization"`
	Aliases      []Alias  `json:"aliases"`
	Mods         []string `json:"mods"`
}

// Resolver translates virtual paths into resolved paths. Resolution is pure
// except for the probe used with CheckModPaths.
type Resolver struct {
	mu  sync.RWMutex
	log *log.Logger

	basePath     string
	writeRoot    string
	gameFolder   string
	localization string
	aliases      []Alias
	mods         []string
	probe        ProbeFunc
	maxLength    int
}

// New creates a resolver rooted at basePath.
func New(basePath string, opts ...Option) (*Resolver, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	if err := data.ValidatePath("resolver", basePath, options.MaxPathLength); err != nil {
		return nil, err
	}

	base := cleanRoot(basePath)
	writeRoot := base
	if options.WriteRoot != "" {
		writeRoot = cleanRoot(options.WriteRoot)
	}

	r := &Resolver{
		log:       options.Logger,
		basePath:  base,
		writeRoot: writeRoot,
		probe:     options.Probe,
		maxLength: options.MaxPathLength,
	}
	r.setGameFolderUnsafe(options.GameFolder)
	for _, mod := range options.Mods {
		r.addModUnsafe(mod)
	}
	if options.Localization != "" {
		r.setLocalizationUnsafe(options.Localization)
	}

	return r, nil
}

// BasePath returns the root all relative paths are resolved against.
func (r *Resolver) BasePath() string {
	return r.basePath
}

// WriteRoot returns the root used for ForWriting resolutions.
func (r *Resolver) WriteRoot() string {
	return r.writeRoot
}

// MaxPathLength returns the maximum accepted path length.
func (r *Resolver) MaxPathLength() int {
	return r.maxLength
}

// Resolve translates p according to flags.
func (r *Resolver) Resolve(p string, flags Flags) (string, error) {
	if err := data.ValidatePath("resolve", p, r.maxLength); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p = data.ToSlash(p)
	root := r.basePath
	if flags&ForWriting != 0 {
		root = r.writeRoot
	}

	if flags&Real != 0 {
		return r.finalize(p, flags)
	}

	expanded, aliased := r.expandAliasUnsafe(p)
	if data.IsAbsolute(expanded) {
		return r.finalize(expanded, flags)
	}

	if escapesRoot(expanded) {
		return "", data.MalformedPath("resolve", p, "path escapes its root")
	}

	if flags&CheckModPaths != 0 && r.probe != nil {
		for _, mod := range r.mods {
			candidate, err := r.finalize(joinRoot(r.rootOf(mod, root), expanded), flags&^NoFullPath)
			if err != nil {
				return "", err
			}
			if r.probe(candidate) {
				r.log.Debug("Resolve: '%s' found in mod '%s'", p, mod)
				if flags&NoFullPath != 0 {
					return r.finalize(joinRoot(mod, expanded), flags)
				}
				return candidate, nil
			}
		}
	}

	if !aliased && r.gameFolder != "" && !data.HasPathPrefix(strings.ToLower(expanded), strings.ToLower(r.gameFolder)) {
		expanded = r.gameFolder + "/" + expanded
	}

	if flags&NoFullPath != 0 {
		return r.finalize(expanded, flags)
	}

	return r.finalize(joinRoot(root, expanded), flags)
}

// rootOf places a relative mod folder below the root.
func (r *Resolver) rootOf(mod, root string) string {
	if data.IsAbsolute(mod) {
		return mod
	}
	return joinRoot(root, mod)
}

// finalize cleans p, lower-cases everything below the roots and applies the
// trailing slash flag. MUST be called while holding the resolver lock.
func (r *Resolver) finalize(p string, flags Flags) (string, error) {
	trailing := flags&AddTrailingSlash != 0 || strings.HasSuffix(p, "/")
	absolute := data.IsAbsolute(p)

	if !absolute && escapesRoot(p) {
		return "", data.MalformedPath("resolve", p, "path escapes its root")
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = ""
	}

	if flags&NoLowerCase == 0 {
		cleaned = r.lowerLogical(cleaned, absolute)
	}

	if trailing && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}

	if len(cleaned) > r.maxLength {
		return "", data.MalformedPath("resolve", cleaned, "resolved path exceeds maximum length")
	}

	return cleaned, nil
}

// lowerLogical lower-cases the part of p below the longest matching root.
// Absolute paths outside of both roots keep their casing.
func (r *Resolver) lowerLogical(p string, absolute bool) string {
	if !absolute {
		return strings.ToLower(p)
	}

	match := ""
	for _, root := range []string{r.basePath, r.writeRoot} {
		if root != "" && data.HasPathPrefix(p, root) && len(root) > len(match) {
			match = root
		}
	}
	if match == "" {
		return p
	}

	return p[:len(match)] + strings.ToLower(p[len(match):])
}

// expandAliasUnsafe replaces a leading alias segment. MUST be called while
// holding the resolver lock.
func (r *Resolver) expandAliasUnsafe(p string) (string, bool) {
	segment, rest, _ := strings.Cut(strings.TrimPrefix(p, "./"), "/")
	segment = strings.ToLower(segment)

	for _, alias := range r.aliases {
		if alias.Name == segment {
			if rest == "" {
				return alias.Value, true
			}
			return strings.TrimSuffix(alias.Value, "/") + "/" + rest, true
		}
	}

	return p, false
}

// SetAlias adds or removes the alias name. Aliases match a whole leading
// path segment, case-insensitively.
func (r *Resolver) SetAlias(name, value string, add bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setAliasUnsafe(name, value, add)
}

func (r *Resolver) setAliasUnsafe(name, value string, add bool) {
	name = strings.ToLower(strings.Trim(data.ToSlash(name), "/"))
	if name == "" {
		return
	}

	idx := slices.IndexFunc(r.aliases, func(a Alias) bool { return a.Name == name })
	if !add {
		if idx >= 0 {
			r.aliases = slices.Delete(r.aliases, idx, idx+1)
			r.log.Debug("SetAlias: removed alias '%s'", name)
		}
		return
	}

	alias := Alias{Name: name, Value: strings.TrimSuffix(data.ToSlash(value), "/")}
	if idx >= 0 {
		r.aliases[idx] = alias
	} else {
		r.aliases = append(r.aliases, alias)
	}
	r.log.Debug("SetAlias: '%s' -> '%s'", name, alias.Value)
}

// ParseAliases registers aliases from a comma separated "name,value,name,value" list.
func (r *Resolver) ParseAliases(list string) error {
	parts := strings.Split(list, ",")
	if len(parts)%2 != 0 {
		return data.MalformedPath("aliases", list, "alias list needs name/value pairs")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < len(parts); i += 2 {
		r.setAliasUnsafe(strings.TrimSpace(parts[i]), strings.TrimSpace(parts[i+1]), true)
	}
	return nil
}

// Aliases returns a copy of the registered aliases.
func (r *Resolver) Aliases() []Alias {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.aliases)
}

// AddMod registers a mod root; mods are probed in registration order.
func (r *Resolver) AddMod(mod string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addModUnsafe(mod)
}

func (r *Resolver) addModUnsafe(mod string) {
	mod = strings.TrimSuffix(data.CleanPath(mod), "/")
	if mod == "" || slices.Contains(r.mods, mod) {
		return
	}

	r.mods = append(r.mods, mod)
	r.log.Debug("AddMod: registered mod root '%s'", mod)
}

// RemoveMod unregisters a mod root and reports whether it was registered.
func (r *Resolver) RemoveMod(mod string) bool {
	mod = strings.TrimSuffix(data.CleanPath(mod), "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.Index(r.mods, mod)
	if idx < 0 {
		return false
	}

	r.mods = slices.Delete(r.mods, idx, idx+1)
	return true
}

// Mods returns the registered mod roots in probe order.
func (r *Resolver) Mods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.mods)
}

// SetGameFolder sets the folder prepended to plain relative paths.
func (r *Resolver) SetGameFolder(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setGameFolderUnsafe(folder)
}

func (r *Resolver) setGameFolderUnsafe(folder string) {
	r.gameFolder = strings.Trim(data.CleanPath(folder), "/")
}

// GameFolder returns the current game folder.
func (r *Resolver) GameFolder() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.gameFolder
}

// SetLocalization selects the language folder behind the %language% alias.
func (r *Resolver) SetLocalization(language string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setLocalizationUnsafe(language)
}

func (r *Resolver) setLocalizationUnsafe(language string) {
	r.localization = strings.ToLower(strings.TrimSpace(language))
	if r.localization == "" {
		r.setAliasUnsafe(LanguageAlias, "", false)
		return
	}

	r.setAliasUnsafe(LanguageAlias, "localization/"+r.localization, true)
}

// Localization returns the current language.
func (r *Resolver) Localization() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.localization
}

// State returns a snapshot of the persistable configuration.
func (r *Resolver) State() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]Alias, 0, len(r.aliases))
	for _, alias := range r.aliases {
		if alias.Name != LanguageAlias {
			aliases = append(aliases, alias)
		}
	}

	return &State{
		GameFolder:   r.gameFolder,
		Localization: r.localization,
		Aliases:      aliases,
		Mods:         slices.Clone(r.mods),
	}
}

// Restore replaces the current configuration with state.
func (r *Resolver) Restore(state *State) {
	if state == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.aliases = nil
	r.mods = nil
	r.setGameFolderUnsafe(state.GameFolder)
	for _, alias := range state.Aliases {
		r.setAliasUnsafe(alias.Name, alias.Value, true)
	}
	for _, mod := range state.Mods {
		r.addModUnsafe(mod)
	}
	r.setLocalizationUnsafe(state.Localization)

	r.log.Debug("Restore: %d aliases, %d mods, game folder '%s'", len(r.aliases), len(r.mods), r.gameFolder)
}

func escapesRoot(rel string) bool {
	cleaned := path.Clean(rel)
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

func cleanRoot(root string) string {
	cleaned := data.CleanPath(root)
	if cleaned == "/" {
		return cleaned
	}
	return strings.TrimSuffix(cleaned, "/")
}

func joinRoot(root, rel string) string {
	if root == "" {
		return rel
	}
	if rel == "" {
		return root
	}
	return strings.TrimSuffix(root, "/") + "/" + rel
}
