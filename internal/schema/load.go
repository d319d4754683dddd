package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Set is a collection of resources keyed by name.
type Set map[string]*Resource

// Names returns resource names sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the named resource or an error listing what exists.
func (s Set) Get(name string) (*Resource, error) {
	r, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q (have %v)", name, s.Names())
	}
	return r, nil
}

// LoadDir compiles every resource declared by the CUE package in dir.
func LoadDir(dir string) (Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir: not a directory: %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema dir: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", err)
	}

	value := cuecontext.New().BuildInstance(instances[0])
	return compileSet(value)
}

// CompileSource compiles resources from CUE source text.
func CompileSource(filename, src string) (Set, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	return compileSet(value)
}

func compileSet(value cue.Value) (Set, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	rv := value.LookupPath(cue.ParsePath("resource"))
	if !rv.Exists() {
		return nil, &CompileError{Field: "resource", Message: "no resource declarations found"}
	}
	iter, err := rv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	set := make(Set)
	for iter.Next() {
		r, err := CompileResource(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("resource.%s: %w", iter.Selector().Unquoted(), err)
		}
		set[r.Name] = r
	}
	return set, nil
}
