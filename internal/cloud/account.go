package cloud

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/pkg/errors"
)

// CallerIdentityAPI is the slice of the STS client used to discover the
// calling account.
type CallerIdentityAPI interface {
	GetCallerIdentityWithContext(
		aws.Context, *sts.GetCallerIdentityInput, ...request.Option,
	) (*sts.GetCallerIdentityOutput, error)
}

// CallerAccount resolves the account ID of the active credentials.
func CallerAccount(ctx context.Context, client CallerIdentityAPI) (string, error) {
	out, err := client.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errors.Wrap(err, "cannot resolve caller identity")
	}
	if out.Account == nil || *out.Account == "" {
		return "", errors.New("caller identity carries no account")
	}
	return *out.Account, nil
}
