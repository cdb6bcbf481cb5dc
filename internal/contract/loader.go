package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes for LoadError. Shared with the CLI's JSON error envelope.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeParseFailed = "E004" // File could not be decoded
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeDuplicate   = "E008" // Two files define the same contract
	ErrCodeInvalid     = "E009" // Structural check failed
)

// LoadError represents an error that occurred while loading one file.
type LoadError struct {
	Code    string
	Message string
	Path    string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Extensions lists the file extensions recognized as contract files.
var Extensions = []string{".logline", ".json", ".yaml", ".yml", ".cue"}

// Load reads every contract file under dir and returns a registry.
// It stops at the first error.
func Load(dir string) (*Registry, error) {
	reg, errs := LoadAll(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return reg, nil
}

// LoadAll reads every contract file under dir in lexical path order.
//
// In LoadModeCollectAll the returned registry holds every contract that
// loaded cleanly alongside the errors for the rest. A missing directory is
// always fatal. An existing directory with no contract files yields an empty
// registry.
func LoadAll(dir string, mode LoadMode) (*Registry, []error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("contracts directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing contracts directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindContractFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}

	reg := &Registry{byName: make(map[string]Contract, len(files))}
	var errs []error
	cueCtx := cuecontext.New()

	for _, path := range files {
		c, loadErr := loadFile(cueCtx, path)
		if loadErr == nil {
			if err := c.Validate(); err != nil {
				loadErr = &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Path: path}
			} else if err := reg.add(c); err != nil {
				loadErr = &LoadError{Code: ErrCodeDuplicate, Message: err.Error(), Path: path}
			}
		}
		if loadErr != nil {
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return nil, errs
			}
		}
	}

	return reg, errs
}

// FindContractFiles walks dir and returns contract file paths in lexical order.
func FindContractFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isContractFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isContractFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// loadFile decodes one file according to its extension.
func loadFile(cueCtx *cue.Context, path string) (Contract, *LoadError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Contract{}, &LoadError{Code: ErrCodeGeneric, Message: err.Error(), Path: path}
	}

	var c Contract
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	case ".cue":
		err = decodeCUE(cueCtx, path, data, &c)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&c)
	}
	if err != nil {
		return Contract{}, &LoadError{Code: ErrCodeParseFailed, Message: err.Error(), Path: path}
	}

	c.Source = path
	return c, nil
}

// decodeCUE evaluates a CUE file and decodes the concrete result.
func decodeCUE(cueCtx *cue.Context, path string, data []byte, c *Contract) error {
	v := cueCtx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return fmt.Errorf("building CUE value: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("CUE value is not concrete: %w", err)
	}
	if err := v.Decode(c); err != nil {
		return fmt.Errorf("decoding CUE value: %w", err)
	}
	return nil
}
