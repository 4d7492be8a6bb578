package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider abstracts file persistence so the store can run against a
// plain directory in production and a temp directory in tests.
type FileProvider interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	Exists(name string) (bool, error)
	Delete(name string) error
	List() ([]string, error)
}

// LocalFileProvider persists files under a base directory on the local
// filesystem.
type LocalFileProvider struct {
	baseDir string
}

func NewLocalFileProvider(baseDir string) (*LocalFileProvider, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalFileProvider{baseDir: baseDir}, nil
}

func (p *LocalFileProvider) path(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid file name: %s", name)
	}
	return filepath.Join(p.baseDir, cleaned), nil
}

func (p *LocalFileProvider) Read(name string) ([]byte, error) {
	path, err := p.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (p *LocalFileProvider) Write(name string, data []byte) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *LocalFileProvider) Exists(name string) (bool, error) {
	path, err := p.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *LocalFileProvider) Delete(name string) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns all file names relative to the base directory.
func (p *LocalFileProvider) List() ([]string, error) {
	var names []string
	err := filepath.Walk(p.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// PrefixedFileProvider namespaces another provider under a directory prefix.
// The store uses one per collection over a shared local provider.
type PrefixedFileProvider struct {
	inner  FileProvider
	prefix string
}

func NewPrefixedFileProvider(inner FileProvider, prefix string) *PrefixedFileProvider {
	return &PrefixedFileProvider{inner: inner, prefix: strings.Trim(prefix, "/")}
}

func (p *PrefixedFileProvider) Read(name string) ([]byte, error) {
	return p.inner.Read(p.prefix + "/" + name)
}

func (p *PrefixedFileProvider) Write(name string, data []byte) error {
	return p.inner.Write(p.prefix+"/"+name, data)
}

func (p *PrefixedFileProvider) Exists(name string) (bool, error) {
	return p.inner.Exists(p.prefix + "/" + name)
}

func (p *PrefixedFileProvider) Delete(name string) error {
	return p.inner.Delete(p.prefix + "/" + name)
}

func (p *PrefixedFileProvider) List() ([]string, error) {
	all, err := p.inner.List()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, p.prefix+"/") {
			names = append(names, strings.TrimPrefix(name, p.prefix+"/"))
		}
	}
	return names, nil
}
