// Package secrets resolves the session signing secret, either from an SSM
// SecureString parameter or from a literal value supplied through config.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/academy-portal/internal/log"
	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

const (
	SourceSSM     = "ssm"
	SourceLiteral = "literal"
)

// ParameterGetter is the subset of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Options struct {
	Logger log.Logger

	// SSMParam names a SecureString parameter. Takes precedence over Literal.
	SSMParam string

	// Literal is used when SSMParam is empty, intended for local development
	Literal string

	// AWS config (uses default if nil), only loaded when SSMParam is set
	AWSConfig *aws.Config

	// Client overrides the SSM client, for tests
	Client ParameterGetter
}

// Secret is a resolved secret and where it came from.
type Secret struct {
	Value  []byte
	Source string
}

// Resolve returns the configured secret. Empty values are errors.
func Resolve(ctx context.Context, opts Options) (Secret, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	if opts.SSMParam == "" {
		v := strings.TrimSpace(opts.Literal)
		if v == "" {
			return Secret{}, xerrors.New("no secret configured: set an SSM parameter or a literal secret")
		}
		opts.Logger.Warn(ctx, "using literal session secret, configure an SSM parameter outside development")
		return Secret{Value: []byte(v), Source: SourceLiteral}, nil
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return Secret{}, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = ssm.NewFromConfig(awsCfg)
	}

	v, err := fetchParameter(ctx, client, opts.SSMParam)
	if err != nil {
		return Secret{}, err
	}
	opts.Logger.Info(ctx, "resolved session secret from SSM", "param", opts.SSMParam)
	return Secret{Value: []byte(v), Source: SourceSSM}, nil
}

func fetchParameter(ctx context.Context, client ParameterGetter, name string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}
