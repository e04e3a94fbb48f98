package cloud

import (
	"fmt"

	"github.com/pkg/errors"
)

// Algorithm names the built-in algorithm containers the platform hosts per
// region.
type Algorithm string

// Built-in algorithms used by the workshop workflow.
const (
	AlgorithmXGBoost     Algorithm = "xgboost"
	AlgorithmScikitLearn Algorithm = "scikit-learn"
)

var algorithmRepositories = map[Algorithm]string{
	AlgorithmXGBoost:     "sagemaker-xgboost",
	AlgorithmScikitLearn: "sagemaker-scikit-learn",
}

// The framework containers for xgboost and scikit-learn are published from
// one registry account per region. Regions missing from this table are
// unsupported rather than guessed.
var algorithmRegistries = map[string]string{
	"us-east-1":      "683313688378",
	"us-east-2":      "257758044811",
	"us-west-1":      "746614075791",
	"us-west-2":      "246618743249",
	"ca-central-1":   "341280168497",
	"eu-west-1":      "141502667606",
	"eu-west-2":      "764974769150",
	"eu-central-1":   "492215442770",
	"ap-northeast-1": "354813040037",
	"ap-northeast-2": "366743142698",
	"ap-southeast-1": "121021644041",
	"ap-southeast-2": "783357654285",
	"ap-south-1":     "720646828776",
	"sa-east-1":      "737474898029",
}

// AlgorithmImage resolves the container image URI of a built-in algorithm,
// e.g. AlgorithmImage("us-east-1", AlgorithmXGBoost, "1.5-1").
func AlgorithmImage(region string, algorithm Algorithm, tag string) (string, error) {
	repository, ok := algorithmRepositories[algorithm]
	if !ok {
		return "", errors.Errorf("unknown algorithm %q", algorithm)
	}
	registry, ok := algorithmRegistries[region]
	if !ok {
		return "", errors.Errorf("no %s registry known for region %q", algorithm, region)
	}
	if tag == "" {
		return "", errors.Errorf("no image tag given for algorithm %q", algorithm)
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:%s", registry, region, repository, tag), nil
}
