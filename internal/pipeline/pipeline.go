// Package pipeline owns the declarative pipeline: a DAG of processing,
// training, and model-registration steps with parameter substitution, its
// validation and JSON definition rendering, and the client that installs and
// executes it on the platform's orchestrator.
package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ParameterType is the declared type of a pipeline parameter.
type ParameterType string

// Parameter types the platform's definition schema knows.
const (
	ParameterString  ParameterType = "String"
	ParameterInteger ParameterType = "Integer"
	ParameterFloat   ParameterType = "Float"
)

var parameterTypes = map[ParameterType]bool{
	ParameterString:  true,
	ParameterInteger: true,
	ParameterFloat:   true,
}

// Parameter is one substitutable input of a pipeline execution.
type Parameter struct {
	Name    string
	Type    ParameterType
	Default interface{}
}

// ProcessingStep runs the preprocessing script against the raw dataset.
type ProcessingStep struct {
	Image         string
	InstanceType  Value
	InstanceCount int
	VolumeGB      int
	RatioArg      Value
	ScriptURI     Value
	InputURI      Value
	TrainURI      Value
	TestURI       Value
}

// TrainingStep trains the gradient-boosted model on a processing step's
// outputs.
type TrainingStep struct {
	Image           string
	InstanceType    Value
	InstanceCount   int
	VolumeGB        int
	Hyperparameters map[string]string
	TrainURI        Value
	ValidationURI   Value
	OutputURI       Value
}

// RegisterStep adds the trained model to the registry group.
type RegisterStep struct {
	Group          string
	Image          string
	ArtifactURI    Value
	ApprovalStatus Value
}

// Step is one node of the pipeline DAG. Exactly one of the variant fields is
// set.
type Step struct {
	Name      string
	DependsOn []string

	Processing *ProcessingStep
	Training   *TrainingStep
	Register   *RegisterStep
}

func (s Step) kind() string {
	switch {
	case s.Processing != nil:
		return "Processing"
	case s.Training != nil:
		return "Training"
	case s.Register != nil:
		return "RegisterModel"
	default:
		return ""
	}
}

// values lists the step's substitutable slots with names for error reporting.
func (s Step) values() map[string]Value {
	vals := map[string]Value{}
	switch {
	case s.Processing != nil:
		p := s.Processing
		vals["instance type"] = p.InstanceType
		vals["train ratio"] = p.RatioArg
		vals["script"] = p.ScriptURI
		vals["input"] = p.InputURI
		vals["train output"] = p.TrainURI
		vals["test output"] = p.TestURI
	case s.Training != nil:
		t := s.Training
		vals["instance type"] = t.InstanceType
		vals["train channel"] = t.TrainURI
		vals["validation channel"] = t.ValidationURI
		vals["artifact output"] = t.OutputURI
	case s.Register != nil:
		r := s.Register
		vals["model artifacts"] = r.ArtifactURI
		vals["approval status"] = r.ApprovalStatus
	}
	return vals
}

// stepProperties maps a step kind to the property path prefixes downstream
// steps may reference. The paths are the platform's own property names;
// anything else would fail at execution time, so it fails validation instead.
var stepProperties = map[string][]string{
	"Processing": {
		"ProcessingJobName",
		"ProcessingJobStatus",
		"ProcessingOutputConfig.Outputs",
	},
	"Training": {
		"TrainingJobName",
		"TrainingJobStatus",
		"ModelArtifacts.S3ModelArtifacts",
		"FinalMetricDataList",
	},
	"RegisterModel": {
		"ModelPackageArn",
		"ModelApprovalStatus",
	},
}

var pipelineNamePattern = regexp.MustCompile(`^[a-zA-Z0-9](-*[a-zA-Z0-9]){0,255}$`)

// Pipeline is the declarative workflow: parameters and a DAG of steps.
type Pipeline struct {
	Name       string
	RoleARN    string
	Parameters []Parameter
	Steps      []Step
}

// Validate checks the whole pipeline before anything touches the platform:
// names, the parameter table, every reference, and the shape of the graph.
// All violations are collected, not just the first.
func (p Pipeline) Validate() error {
	var merr *multierror.Error
	report := func(err error) {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if !pipelineNamePattern.MatchString(p.Name) {
		report(errors.Errorf("pipeline name %q must be alphanumeric-or-hyphen", p.Name))
	}
	if p.RoleARN == "" {
		report(errors.New("pipeline execution role must be set"))
	}

	params := map[string]bool{}
	for _, param := range p.Parameters {
		if param.Name == "" {
			report(errors.New("parameter with empty name"))
			continue
		}
		if params[param.Name] {
			report(errors.Errorf("duplicate parameter %q", param.Name))
		}
		params[param.Name] = true
		if !parameterTypes[param.Type] {
			report(errors.Errorf("parameter %q has unknown type %q", param.Name, param.Type))
		}
	}

	kinds := map[string]string{}
	for _, step := range p.Steps {
		if step.Name == "" {
			report(errors.New("step with empty name"))
			continue
		}
		if _, ok := kinds[step.Name]; ok {
			report(errors.Errorf("duplicate step %q", step.Name))
			continue
		}
		if step.kind() == "" {
			report(errors.Errorf("step %q has no variant set", step.Name))
			continue
		}
		if variants := countVariants(step); variants > 1 {
			report(errors.Errorf("step %q has %d variants set, want exactly one", step.Name, variants))
			continue
		}
		kinds[step.Name] = step.kind()
	}
	if len(p.Steps) == 0 {
		report(errors.New("pipeline has no steps"))
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				report(errors.Errorf("step %q depends on itself", step.Name))
			} else if _, ok := kinds[dep]; !ok {
				report(errors.Errorf("step %q depends on unknown step %q", step.Name, dep))
			}
		}
		for slot, value := range step.values() {
			report(p.checkValue(kinds, step, slot, value))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	// Cycle detection only makes sense on an otherwise well-formed graph.
	if _, err := p.TopoOrder(); err != nil {
		return err
	}
	return nil
}

func countVariants(step Step) int {
	n := 0
	if step.Processing != nil {
		n++
	}
	if step.Training != nil {
		n++
	}
	if step.Register != nil {
		n++
	}
	return n
}

func (p Pipeline) checkValue(kinds map[string]string, step Step, slot string, value Value) error {
	if value.IsZero() {
		return errors.Errorf("step %q leaves %s unset", step.Name, slot)
	}
	if name, ok := value.paramName(); ok {
		declared := false
		for _, param := range p.Parameters {
			if param.Name == name {
				declared = true
				break
			}
		}
		if !declared {
			return errors.Errorf("step %q references undeclared parameter %q", step.Name, name)
		}
		return nil
	}
	upstream, path, ok := value.stepRef()
	if !ok {
		return nil
	}
	kind, exists := kinds[upstream]
	if !exists {
		return errors.Errorf("step %q references unknown step %q", step.Name, upstream)
	}
	if upstream == step.Name {
		return errors.Errorf("step %q references its own properties", step.Name)
	}
	for _, prefix := range stepProperties[kind] {
		if path == prefix || strings.HasPrefix(path, prefix+".") || strings.HasPrefix(path, prefix+"[") {
			return nil
		}
	}
	return errors.Errorf("step %q references %q, which is not a property of %s step %q",
		step.Name, path, kind, upstream)
}

// edges returns each step's upstream dependencies: the declared DependsOn
// edges plus the edges implied by property references.
func (p Pipeline) edges() map[string]map[string]bool {
	deps := map[string]map[string]bool{}
	for _, step := range p.Steps {
		deps[step.Name] = map[string]bool{}
		for _, dep := range step.DependsOn {
			deps[step.Name][dep] = true
		}
		for _, value := range step.values() {
			if upstream, _, ok := value.stepRef(); ok {
				deps[step.Name][upstream] = true
			}
		}
	}
	return deps
}

// TopoOrder returns the step names in a deterministic topological order, or
// an error naming the steps stuck on a cycle.
func (p Pipeline) TopoOrder() ([]string, error) {
	deps := p.edges()
	order := make([]string, 0, len(deps))
	done := map[string]bool{}
	for len(order) < len(deps) {
		var ready []string
		for name, upstream := range deps {
			if done[name] {
				continue
			}
			blocked := false
			for dep := range upstream {
				if !done[dep] {
					blocked = true
					break
				}
			}
			if !blocked {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for name := range deps {
				if !done[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, errors.Errorf("pipeline has a dependency cycle among steps %v", stuck)
		}
		sort.Strings(ready)
		for _, name := range ready {
			done[name] = true
		}
		order = append(order, ready...)
	}
	return order, nil
}
