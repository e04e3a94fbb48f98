package pipeline

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/machinist-ai/machinist/internal/jobs"
)

// definitionVersion is the platform's pipeline definition schema version.
const definitionVersion = "2020-12-01"

type definitionDoc struct {
	Version    string         `json:"Version"`
	Parameters []parameterDoc `json:"Parameters"`
	Steps      []stepDoc      `json:"Steps"`
}

type parameterDoc struct {
	Name         string      `json:"Name"`
	Type         string      `json:"Type"`
	DefaultValue interface{} `json:"DefaultValue,omitempty"`
}

type stepDoc struct {
	Name      string      `json:"Name"`
	Type      string      `json:"Type"`
	DependsOn []string    `json:"DependsOn,omitempty"`
	Arguments interface{} `json:"Arguments"`
}

// Definition validates the pipeline and renders the platform's JSON
// definition document. Rendering is a pure function of the pipeline: steps
// appear in deterministic topological order and map keys are sorted by the
// encoder.
func (p Pipeline) Definition() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	order, err := p.TopoOrder()
	if err != nil {
		return "", err
	}
	byName := map[string]Step{}
	for _, step := range p.Steps {
		byName[step.Name] = step
	}

	doc := definitionDoc{
		Version:    definitionVersion,
		Parameters: []parameterDoc{},
		Steps:      []stepDoc{},
	}
	for _, param := range p.Parameters {
		doc.Parameters = append(doc.Parameters, parameterDoc{
			Name:         param.Name,
			Type:         string(param.Type),
			DefaultValue: param.Default,
		})
	}
	for _, name := range order {
		step := byName[name]
		doc.Steps = append(doc.Steps, stepDoc{
			Name:      step.Name,
			Type:      step.kind(),
			DependsOn: step.DependsOn,
			Arguments: step.arguments(p.RoleARN),
		})
	}

	rendered, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "cannot render pipeline definition")
	}
	return string(rendered), nil
}

func (s Step) arguments(roleARN string) interface{} {
	switch {
	case s.Processing != nil:
		return s.Processing.arguments(roleARN)
	case s.Training != nil:
		return s.Training.arguments(roleARN)
	case s.Register != nil:
		return s.Register.arguments()
	default:
		return nil
	}
}

func (p *ProcessingStep) arguments(roleARN string) interface{} {
	return map[string]interface{}{
		"RoleArn": roleARN,
		"AppSpecification": map[string]interface{}{
			"ImageUri": p.Image,
			"ContainerEntrypoint": []interface{}{
				"python3", jobs.ProcessingCodePath + "/preprocess.py",
			},
			"ContainerArguments": []interface{}{"--train-ratio", p.RatioArg},
		},
		"ProcessingInputs": []interface{}{
			map[string]interface{}{
				"InputName": "code",
				"S3Input": map[string]interface{}{
					"S3Uri":       p.ScriptURI,
					"LocalPath":   jobs.ProcessingCodePath,
					"S3DataType":  "S3Prefix",
					"S3InputMode": "File",
				},
			},
			map[string]interface{}{
				"InputName": "data",
				"S3Input": map[string]interface{}{
					"S3Uri":       p.InputURI,
					"LocalPath":   jobs.ProcessingDataPath,
					"S3DataType":  "S3Prefix",
					"S3InputMode": "File",
				},
			},
		},
		"ProcessingOutputConfig": map[string]interface{}{
			"Outputs": []interface{}{
				map[string]interface{}{
					"OutputName": "train",
					"S3Output": map[string]interface{}{
						"S3Uri":        p.TrainURI,
						"LocalPath":    jobs.ProcessingTrainPath,
						"S3UploadMode": "EndOfJob",
					},
				},
				map[string]interface{}{
					"OutputName": "test",
					"S3Output": map[string]interface{}{
						"S3Uri":        p.TestURI,
						"LocalPath":    jobs.ProcessingTestPath,
						"S3UploadMode": "EndOfJob",
					},
				},
			},
		},
		"ProcessingResources": map[string]interface{}{
			"ClusterConfig": map[string]interface{}{
				"InstanceType":   p.InstanceType,
				"InstanceCount":  p.InstanceCount,
				"VolumeSizeInGB": p.VolumeGB,
			},
		},
	}
}

func (t *TrainingStep) arguments(roleARN string) interface{} {
	channel := func(name string, uri Value) interface{} {
		return map[string]interface{}{
			"ChannelName": name,
			"ContentType": "text/csv",
			"DataSource": map[string]interface{}{
				"S3DataSource": map[string]interface{}{
					"S3DataType":             "S3Prefix",
					"S3Uri":                  uri,
					"S3DataDistributionType": "FullyReplicated",
				},
			},
		}
	}
	return map[string]interface{}{
		"RoleArn": roleARN,
		"AlgorithmSpecification": map[string]interface{}{
			"TrainingImage":     t.Image,
			"TrainingInputMode": "File",
		},
		"HyperParameters": t.Hyperparameters,
		"InputDataConfig": []interface{}{
			channel("train", t.TrainURI),
			channel("validation", t.ValidationURI),
		},
		"OutputDataConfig": map[string]interface{}{
			"S3OutputPath": t.OutputURI,
		},
		"ResourceConfig": map[string]interface{}{
			"InstanceType":   t.InstanceType,
			"InstanceCount":  t.InstanceCount,
			"VolumeSizeInGB": t.VolumeGB,
		},
	}
}

func (r *RegisterStep) arguments() interface{} {
	return map[string]interface{}{
		"ModelPackageGroupName": r.Group,
		"ModelApprovalStatus":   r.ApprovalStatus,
		"InferenceSpecification": map[string]interface{}{
			"Containers": []interface{}{
				map[string]interface{}{
					"Image":        r.Image,
					"ModelDataUrl": r.ArtifactURI,
				},
			},
			"SupportedContentTypes":      []interface{}{"text/csv"},
			"SupportedResponseMIMETypes": []interface{}{"text/csv"},
		},
	}
}
