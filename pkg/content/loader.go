package content

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed study.schema.json
var schemaJSON []byte

const schemaURL = "https://exemplar.local/study.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func studySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = goerr.Wrap(err, "failed to read study schema")
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = goerr.Wrap(err, "failed to add study schema")
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// LoadStudy reads a YAML study file. Template variables like {{date}} and
// {{param_name}} are interpolated from params, then from the study's own
// param defaults.
func LoadStudy(path string, params map[string]string) (Study, error) {
	return LoadStudyWith(os.ReadFile, path, params)
}

// FileReader reads a study file.
type FileReader func(path string) ([]byte, error)

// LoadStudyWith is LoadStudy reading the file through read.
func LoadStudyWith(read FileReader, path string, params map[string]string) (Study, error) {
	data, err := read(path)
	if err != nil {
		return Study{}, goerr.Wrap(err, "failed to read study", goerr.V("path", path))
	}

	study, err := ParseStudy(data, params)
	if err != nil {
		return Study{}, goerr.Wrap(err, "failed to load study", goerr.V("path", path))
	}
	return study, nil
}

// ParseStudy parses YAML study data, interpolates variables and checks
// the result against the study schema.
func ParseStudy(data []byte, params map[string]string) (Study, error) {
	// First pass: param defaults.
	var raw Study
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Study{}, goerr.Wrap(err, "failed to parse study")
	}

	vars := buildVarMap(raw.Params, params)
	interpolated := []byte(interpolateVars(string(data), vars))

	if err := checkSchema(interpolated); err != nil {
		return Study{}, err
	}

	var study Study
	if err := yaml.Unmarshal(interpolated, &study); err != nil {
		return Study{}, goerr.Wrap(err, "failed to parse interpolated study")
	}
	return study, nil
}

// checkSchema validates the document's structure. YAML is converted to
// JSON first so the schema sees JSON types.
func checkSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return goerr.Wrap(err, "failed to parse study")
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return goerr.Wrap(err, "study is not representable as JSON")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return goerr.Wrap(err, "failed to decode study")
	}

	sch, err := studySchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return goerr.Wrap(err, "study does not match schema")
	}
	return nil
}

// buildVarMap creates the variable map from built-ins, param defaults and
// runtime overrides, later sources winning.
func buildVarMap(paramDefs []ParamDef, overrides map[string]string) map[string]string {
	vars := make(map[string]string)

	now := time.Now()
	vars["date"] = now.Format("2006-01-02")
	vars["year"] = now.Format("2006")

	for _, p := range paramDefs {
		if p.Default != nil {
			vars[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

var templatePattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// interpolateVars replaces {{var_name}} with its value. Unknown names are
// left as written.
func interpolateVars(s string, vars map[string]string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{")
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}
