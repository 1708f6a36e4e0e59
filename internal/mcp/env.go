package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Variables passed to every stdio server. Nothing else from the parent
// environment reaches the child unless listed in EnvPassthrough.
var (
	posixBaseEnv = []string{"HOME", "LOGNAME", "PATH", "SHELL", "TERM", "USER", "LANG"}
	tempDirEnv   = []string{"TMPDIR", "TEMP", "TMP"}
	windowsEnv   = []string{"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PATHEXT", "SYSTEMROOT", "COMSPEC"}
)

const defaultPathExt = ".COM;.EXE;.BAT;.CMD"

var lookupEnv = os.LookupEnv

// allowedEnvNames returns the allowlist for goos.
func allowedEnvNames(goos string) []string {
	names := append([]string{}, posixBaseEnv...)
	names = append(names, tempDirEnv...)
	if goos == "windows" {
		names = append(names, windowsEnv...)
	}
	return names
}

// buildEnv assembles the child environment: allowlisted and passthrough
// variables copied from the parent, then explicit overrides. The result is
// sorted for stable diagnostics.
func buildEnv(goos string, lookup func(string) (string, bool), passthrough []string, overrides map[string]string) []string {
	vals := make(map[string]string)
	fold := goos == "windows"
	key := func(k string) string {
		if fold {
			return strings.ToUpper(k)
		}
		return k
	}
	names := make(map[string]string) // folded -> original spelling

	for _, name := range append(allowedEnvNames(goos), passthrough...) {
		if v, ok := lookup(name); ok {
			vals[key(name)] = v
			names[key(name)] = name
		}
	}
	for k, v := range overrides {
		vals[key(k)] = v
		names[key(k)] = k
	}

	out := make([]string, 0, len(vals))
	for k, v := range vals {
		out = append(out, names[k]+"="+v)
	}
	sort.Strings(out)
	return out
}

// envValue looks name up in a KEY=VALUE list.
func envValue(env []string, name string, fold bool) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if !ok {
			continue
		}
		if k == name || (fold && strings.EqualFold(k, name)) {
			return v, true
		}
	}
	return "", false
}

var errLauncherNotFound = errors.New("launcher not found")

// resolveLauncher finds the executable for command using the child's own
// PATH. On Windows a command without an extension is tried with each
// PATHEXT suffix, since .cmd and .bat launchers cannot be spawned by bare
// name without a shell.
func resolveLauncher(goos, command, cwd string, env []string, exists func(string) bool) (string, error) {
	if goos != "windows" {
		if strings.ContainsRune(command, '/') {
			candidate := command
			if cwd != "" && !strings.HasPrefix(command, "/") {
				candidate = filepath.Join(cwd, command)
			}
			if exists(candidate) {
				return command, nil
			}
			return "", errLauncherNotFound
		}
		path, _ := envValue(env, "PATH", false)
		for _, dir := range filepath.SplitList(path) {
			if dir == "" {
				dir = "."
			}
			candidate := dir + "/" + command
			if exists(candidate) {
				return candidate, nil
			}
		}
		return "", errLauncherNotFound
	}

	exts := []string{""}
	if winExt(command) == "" {
		pathext, ok := envValue(env, "PATHEXT", true)
		if !ok || pathext == "" {
			pathext = defaultPathExt
		}
		exts = nil
		for _, e := range strings.Split(pathext, ";") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, strings.ToLower(e))
			}
		}
	}

	var dirs []string
	if strings.ContainsAny(command, `\/:`) {
		dirs = []string{""}
	} else {
		path, _ := envValue(env, "PATH", true)
		dirs = append([]string{""}, strings.Split(path, ";")...)
	}
	for _, dir := range dirs {
		base := command
		if dir != "" {
			base = strings.TrimRight(dir, `\/`) + `\` + command
		} else if !strings.ContainsAny(command, `\/:`) {
			// Current directory is not searched implicitly.
			continue
		}
		for _, ext := range exts {
			if exists(base + ext) {
				return base + ext, nil
			}
		}
	}
	return "", errLauncherNotFound
}

// winExt returns the extension of a Windows path.
func winExt(p string) string {
	if i := strings.LastIndexAny(p, `\/`); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndexByte(p, '.'); i > 0 {
		return p[i:]
	}
	return ""
}

func isExecutableFile(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	if filepath.Separator == '\\' {
		return true
	}
	return st.Mode()&0o111 != 0
}
