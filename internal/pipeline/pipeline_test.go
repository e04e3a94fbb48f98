package pipeline

import (
	"testing"

	"gotest.tools/assert"
)

func testPipeline() Pipeline {
	p, err := Workshop(WorkshopInput{
		Name:               "machinist-workshop",
		Region:             "us-east-1",
		RoleARN:            "arn:aws:iam::123456789012:role/machinist",
		Bucket:             "machinist-us-east-1-123456789012",
		Prefix:             "workshop",
		Group:              "failures",
		ScriptURI:          "s3://machinist-us-east-1-123456789012/workshop/code/preprocess.py",
		ProcessingImageTag: "1.2-1",
		TrainingImageTag:   "1.5-1",
	})
	if err != nil {
		panic(err)
	}
	return p
}

func TestWorkshopPipelineValidates(t *testing.T) {
	assert.NilError(t, testPipeline().Validate())
}

func TestWorkshopRejectsUnknownRegion(t *testing.T) {
	_, err := Workshop(WorkshopInput{Region: "mars-north-1", ProcessingImageTag: "1.2-1"})
	assert.ErrorContains(t, err, "no scikit-learn registry known")
}

func TestValidateRejectsDuplicateSteps(t *testing.T) {
	p := testPipeline()
	p.Steps = append(p.Steps, Step{Name: "train", Training: p.Steps[1].Training})
	assert.ErrorContains(t, p.Validate(), `duplicate step "train"`)
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := testPipeline()
	p.Steps[1].DependsOn = []string{"warmup"}
	assert.ErrorContains(t, p.Validate(), `depends on unknown step "warmup"`)
}

func TestValidateRejectsUndeclaredParameter(t *testing.T) {
	p := testPipeline()
	p.Parameters = p.Parameters[:1]
	assert.ErrorContains(t, p.Validate(), "undeclared parameter")
}

func TestValidateRejectsBadPropertyPath(t *testing.T) {
	p := testPipeline()
	p.Steps[2].Register.ArtifactURI = StepProperty("train", "SecretInternals.Password")
	assert.ErrorContains(t, p.Validate(), "not a property of Training")
}

func TestValidateRejectsUnsetValue(t *testing.T) {
	p := testPipeline()
	p.Steps[0].Processing.InputURI = Value{}
	assert.ErrorContains(t, p.Validate(), "leaves input unset")
}

func TestValidateRejectsVariantlessStep(t *testing.T) {
	p := testPipeline()
	p.Steps = append(p.Steps, Step{Name: "mystery"})
	assert.ErrorContains(t, p.Validate(), `step "mystery" has no variant set`)
}

func TestValidateCollectsManyViolations(t *testing.T) {
	p := testPipeline()
	p.RoleARN = ""
	p.Steps[1].DependsOn = []string{"warmup"}
	err := p.Validate()
	assert.ErrorContains(t, err, "execution role")
	assert.ErrorContains(t, err, "warmup")
}

func TestValidateRejectsCycle(t *testing.T) {
	p := testPipeline()
	p.Steps[0].DependsOn = []string{"register"}
	assert.ErrorContains(t, p.Validate(), "dependency cycle")
}

func TestTopoOrderIsDeterministic(t *testing.T) {
	p := testPipeline()
	// Two roots force an ordering decision; it must come out sorted.
	p.Steps = append(p.Steps, Step{
		Name:       "audit",
		Processing: p.Steps[0].Processing,
	})
	first, err := p.TopoOrder()
	assert.NilError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.TopoOrder()
		assert.NilError(t, err)
		assert.DeepEqual(t, again, first)
	}
	assert.DeepEqual(t, first, []string{"audit", "preprocess", "train", "register"})
}

func TestPropertyReferencesImplyEdges(t *testing.T) {
	p := testPipeline()
	// Drop the declared edge; the property references alone must still order
	// train after preprocess.
	p.Steps[1].DependsOn = nil
	order, err := p.TopoOrder()
	assert.NilError(t, err)
	assert.DeepEqual(t, order, []string{"preprocess", "train", "register"})
}
