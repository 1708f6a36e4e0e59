package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/mcphost/internal/mcp"
)

// Layer names recorded in mcp.Source.Layer, lowest precedence first.
const (
	LayerGlobal  = "global"
	LayerUser    = "user"
	LayerProject = "project"
	LayerEnv     = "env"
	LayerInline  = "inline"
)

// Environment variables consulted by LoadServers.
const (
	EnvConfig        = "MCPHOST_CONFIG"
	EnvConfigContent = "MCPHOST_CONFIG_CONTENT"
)

// File is one place server definitions may come from.
type File struct {
	Path  string `json:"path"`
	Layer string `json:"layer"`
}

// Files returns every config file LoadServers consults for directory, in
// merge order, whether or not it exists.
func Files(directory string) []File {
	var files []File
	global := GetPaths().Config
	files = append(files,
		File{filepath.Join(global, "mcp.json"), LayerGlobal},
		File{filepath.Join(global, "mcp.jsonc"), LayerGlobal},
	)
	if home := homeDir(); home != "" {
		files = append(files, File{filepath.Join(home, "."+AppName, "mcp.json"), LayerUser})
	}
	if directory != "" {
		local := filepath.Join(directory, "."+AppName)
		files = append(files,
			File{ProjectConfigPath(directory), LayerProject},
			File{filepath.Join(local, "mcp.json"), LayerProject},
			File{filepath.Join(local, "mcp.jsonc"), LayerProject},
			File{filepath.Join(directory, "mcp.yaml"), LayerProject},
			File{filepath.Join(directory, "mcp.yml"), LayerProject},
		)
	}
	if p := os.Getenv(EnvConfig); p != "" {
		files = append(files, File{p, LayerEnv})
	}
	return files
}

// ServerSet is the merged result of every config layer.
type ServerSet struct {
	servers map[string]mcp.ServerConfig
	// Loaded lists the files that were read, in merge order.
	Loaded []File `json:"loaded"`
}

func newServerSet() *ServerSet {
	return &ServerSet{servers: make(map[string]mcp.ServerConfig)}
}

// Len returns the number of defined servers, disabled ones included.
func (s *ServerSet) Len() int { return len(s.servers) }

// Get returns the definition of one server.
func (s *ServerSet) Get(name string) (mcp.ServerConfig, bool) {
	cfg, ok := s.servers[name]
	return cfg, ok
}

// Names returns the defined server names, sorted.
func (s *ServerSet) Names() []string {
	return slices.Sorted(maps.Keys(s.servers))
}

// All returns every definition sorted by name.
func (s *ServerSet) All() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(s.servers))
	for _, name := range s.Names() {
		out = append(out, s.servers[name])
	}
	return out
}

// Enabled returns the definitions that are not disabled, sorted by name.
func (s *ServerSet) Enabled() []mcp.ServerConfig {
	var out []mcp.ServerConfig
	for _, cfg := range s.All() {
		if !cfg.Disabled {
			out = append(out, cfg)
		}
	}
	return out
}

// LoadServers merges server definitions from every layer. Later layers
// replace earlier definitions of the same name wholesale.
//
// The returned set is never nil. A file that cannot be parsed or a server
// entry that cannot be decoded is skipped, and its problem is joined into
// err so callers can report it and carry on with the rest.
func LoadServers(directory string) (*ServerSet, error) {
	set := newServerSet()
	var problems []error
	seen := make(map[string]bool)

	for _, f := range Files(directory) {
		abs, err := filepath.Abs(f.Path)
		if err != nil || seen[abs] {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				problems = append(problems, fmt.Errorf("read %s: %w", f.Path, err))
			}
			continue
		}
		seen[abs] = true
		set.Loaded = append(set.Loaded, File{Path: abs, Layer: f.Layer})
		problems = append(problems, set.merge(data, isYAML(f.Path), mcp.Source{Path: abs, Layer: f.Layer}, filepath.Dir(abs))...)
	}

	if content := os.Getenv(EnvConfigContent); content != "" {
		cwd, _ := os.Getwd()
		problems = append(problems, set.merge([]byte(content), false, mcp.Source{Path: "$" + EnvConfigContent, Layer: LayerInline}, cwd)...)
	}

	return set, errors.Join(problems...)
}

// ParseServers decodes one config document without consulting any layer.
func ParseServers(data []byte, src mcp.Source, baseDir string) (*ServerSet, error) {
	set := newServerSet()
	problems := set.merge(data, isYAML(src.Path), src, baseDir)
	return set, errors.Join(problems...)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// fileConfig is the document shape. Both the common "mcpServers" key and
// the host's own "mcp" key are accepted; "mcp" wins on a name clash.
type fileConfig struct {
	Schema     string                     `json:"$schema,omitempty"`
	MCPServers map[string]json.RawMessage `json:"mcpServers,omitempty"`
	MCP        map[string]json.RawMessage `json:"mcp,omitempty"`
}

func (s *ServerSet) merge(data []byte, asYAML bool, src mcp.Source, baseDir string) []error {
	where := src.Path
	if asYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return []error{fmt.Errorf("parse %s: %w", where, err)}
		}
		data = converted
	} else {
		data = jsonc.ToJSON(data)
	}
	data = interpolate(data, baseDir)

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return []error{fmt.Errorf("parse %s: %w", where, err)}
	}

	var problems []error
	for _, group := range []map[string]json.RawMessage{fc.MCPServers, fc.MCP} {
		for _, name := range slices.Sorted(maps.Keys(group)) {
			cfg, err := DecodeServer(name, group[name], src, baseDir)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			s.servers[name] = cfg
		}
	}
	return problems
}

// yamlToJSON re-encodes a YAML document so one decoder serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:VAR} and {file:path} placeholders. Substituted
// text is escaped for use inside a JSON string.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return jsonEscape(os.Getenv(name))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := resolvePath(filePattern.FindStringSubmatch(match)[1], baseDir)
		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}
		return jsonEscape(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// resolvePath expands a leading ~/ and anchors relative paths at baseDir.
func resolvePath(p, baseDir string) string {
	switch {
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(homeDir(), p[2:])
	case filepath.IsAbs(p) || baseDir == "":
		return p
	default:
		return filepath.Join(baseDir, p)
	}
}
