package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"gotest.tools/assert"
)

const registerGolden = `{
  "Version": "2020-12-01",
  "Parameters": [
    {
      "Name": "ApprovalStatus",
      "Type": "String",
      "DefaultValue": "PendingManualApproval"
    }
  ],
  "Steps": [
    {
      "Name": "register",
      "Type": "RegisterModel",
      "Arguments": {
        "InferenceSpecification": {
          "Containers": [
            {
              "Image": "image:tag",
              "ModelDataUrl": "s3://bucket/models/model.tar.gz"
            }
          ],
          "SupportedContentTypes": [
            "text/csv"
          ],
          "SupportedResponseMIMETypes": [
            "text/csv"
          ]
        },
        "ModelApprovalStatus": {
          "Get": "Parameters.ApprovalStatus"
        },
        "ModelPackageGroupName": "failures"
      }
    }
  ]
}`

func TestDefinitionGolden(t *testing.T) {
	p := Pipeline{
		Name:    "register-only",
		RoleARN: "arn:aws:iam::123456789012:role/machinist",
		Parameters: []Parameter{
			{Name: "ApprovalStatus", Type: ParameterString, Default: "PendingManualApproval"},
		},
		Steps: []Step{
			{
				Name: "register",
				Register: &RegisterStep{
					Group:          "failures",
					Image:          "image:tag",
					ArtifactURI:    String("s3://bucket/models/model.tar.gz"),
					ApprovalStatus: Param("ApprovalStatus"),
				},
			},
		},
	}
	definition, err := p.Definition()
	assert.NilError(t, err)
	assert.Equal(t, definition, registerGolden)
}

func TestDefinitionIsPure(t *testing.T) {
	p := testPipeline()
	first, err := p.Definition()
	assert.NilError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Definition()
		assert.NilError(t, err)
		assert.Equal(t, again, first)
	}
}

func TestDefinitionRefusesInvalidPipeline(t *testing.T) {
	p := testPipeline()
	p.Steps[1].DependsOn = []string{"warmup"}
	_, err := p.Definition()
	assert.ErrorContains(t, err, "warmup")
}

func TestWorkshopDefinitionShape(t *testing.T) {
	definition, err := testPipeline().Definition()
	assert.NilError(t, err)

	var doc struct {
		Version    string `json:"Version"`
		Parameters []struct {
			Name string `json:"Name"`
		} `json:"Parameters"`
		Steps []struct {
			Name string `json:"Name"`
			Type string `json:"Type"`
		} `json:"Steps"`
	}
	assert.NilError(t, json.Unmarshal([]byte(definition), &doc))
	assert.Equal(t, doc.Version, "2020-12-01")
	assert.Equal(t, len(doc.Parameters), 4)
	assert.Equal(t, len(doc.Steps), 3)
	assert.Equal(t, doc.Steps[0].Name, "preprocess")
	assert.Equal(t, doc.Steps[1].Name, "train")
	assert.Equal(t, doc.Steps[1].Type, "Training")
	assert.Equal(t, doc.Steps[2].Name, "register")

	// Substitution nodes survive rendering.
	assert.Assert(t, strings.Contains(definition, `"Get": "Parameters.TrainRatio"`))
	assert.Assert(t, strings.Contains(definition,
		`"Get": "Steps.preprocess.ProcessingOutputConfig.Outputs['train'].S3Output.S3Uri"`))
	assert.Assert(t, strings.Contains(definition,
		`"Get": "Steps.train.ModelArtifacts.S3ModelArtifacts"`))
}
