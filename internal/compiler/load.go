package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/parser"
)

// LoadDir builds the CUE package in dir (all .cue files unified) and
// compiles it. A directory whose files declare no package is loaded file by
// file, as LoadFiles does.
func LoadDir(dir string) (*Spec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("specs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	packaged, err := declaresPackage(files)
	if err != nil {
		return nil, err
	}
	if !packaged {
		return LoadFiles(files...)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

// declaresPackage reports whether any of files has a package clause.
func declaresPackage(files []string) (bool, error) {
	for _, path := range files {
		f, err := parser.ParseFile(path, nil, parser.PackageClauseOnly)
		if err != nil {
			return false, formatCUEError(err)
		}
		if f.PackageName() != "" {
			return true, nil
		}
	}
	return false, nil
}

// LoadFiles compiles each file on its own and merges the results in
// argument order.
func LoadFiles(paths ...string) (*Spec, error) {
	ctx := cuecontext.New()
	out := &Spec{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read spec: %w", err)
		}
		value := ctx.CompileBytes(data, cue.Filename(path))
		spec, err := Compile(value)
		if err != nil {
			return nil, err
		}
		out.Merge(spec)
	}
	return out, nil
}

// Load compiles path, which may be a directory or a single file.
func Load(path string) (*Spec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("specs: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFiles(path)
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
