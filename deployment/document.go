package deployment

import (
	"fmt"
	"os"
	"path"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// GraphDocument maps node ids to their ordered task descriptors.
type GraphDocument map[string][]map[string]any

// Directory holds shared task fields, merged into descriptors by task id.
type Directory map[string]map[string]any

type Metadata struct {
	FaultToleranceGroups []GroupDocument    `yaml:"fault_tolerance_groups"`
	Subgraphs            []SubgraphDocument `yaml:"subgraphs"`
	CriticalNodes        []string           `yaml:"critical_nodes"`
	NodeConcurrency      int                `yaml:"node_concurrency"`
}

type GroupDocument struct {
	Name           string   `yaml:"name"`
	NodeIDs        []string `yaml:"node_ids"`
	FaultTolerance int      `yaml:"fault_tolerance"`
}

// SubgraphDocument entries are task names, optionally qualified with a node range: "name/1-3,5".
type SubgraphDocument struct {
	Start []string `yaml:"start"`
	End   []string `yaml:"end"`
}

// Input is everything needed to build a deployment.
type Input struct {
	Graph     GraphDocument
	Directory Directory
	Metadata  Metadata
}

type ReadOptions struct {
	// Template parameters, available as {{ .Params.name }}
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Read loads the graph document and the optional directory and metadata documents. Every
// document is a text/template evaluated before being parsed as YAML.
func Read(graphFile, directoryFile, metadataFile string, options ReadOptions) (Input, error) {
	var input Input
	if err := readDocument(graphFile, options, &input.Graph); err != nil {
		return Input{}, fmt.Errorf("graph: %w", err)
	}
	if directoryFile != "" {
		if err := readDocument(directoryFile, options, &input.Directory); err != nil {
			return Input{}, fmt.Errorf("tasks directory: %w", err)
		}
	}
	if metadataFile != "" {
		if err := readDocument(metadataFile, options, &input.Metadata); err != nil {
			return Input{}, fmt.Errorf("tasks metadata: %w", err)
		}
	}
	return input, nil
}

func readDocument(file string, options ReadOptions, out any) error {
	buf, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), path.Dir(file), options)
	if err != nil {
		return fmt.Errorf("evaluate template: %w", err)
	}

	if err := yaml.Unmarshal([]byte(source), out); err != nil {
		return UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	return nil
}

type TemplateData struct {
	Env    map[string]string
	Params map[string]string
	Dir    string
}

func evaluateTemplate(source string, dir string, options ReadOptions) (string, error) {
	funcs := sprig.TxtFuncMap()
	funcs["file"] = func(name string) (string, error) {
		buf, err := os.ReadFile(lo.Ternary(path.IsAbs(name), name, path.Join(dir, name)))
		return string(buf), err
	}

	tmpl, err := template.New("document").Funcs(funcs).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Params: lo.Ternary(options.Params != nil, options.Params, map[string]string{}),
		Dir:    dir,
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return output.String(), nil
}
