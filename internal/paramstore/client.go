// Package paramstore resolves bot settings (operator and back-office
// addresses, status token) from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// Parameter names looked up under the configured prefix.
const (
	ParamOperatorAddress   = "operator_address"
	ParamBackOfficeAddress = "backoffice_address"
	ParamStatusToken       = "status_token"
)

// ErrNotFound is returned when a parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client wraps an AWS SSM API for parameter retrieval under a path prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client. prefix such as "/crossfitbot/prod" is joined to
// every name with a slash.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}, nil
}

// Path returns the full parameter name for name.
func (c *Client) Path(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + strings.TrimLeft(name, "/")
}

// Get returns the decrypted value of the parameter name under the prefix.
func (c *Client) Get(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	path := c.Path(name)
	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &path,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", path, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// Resolve looks up each name and returns the values found. Missing
// parameters are skipped; any other error aborts.
func (c *Client) Resolve(ctx context.Context, names ...string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for _, name := range names {
		v, err := c.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			slog.Debug("Paramstore.Resolve: parameter not set", "name", c.Path(name))
			continue
		}
		if err != nil {
			return nil, err
		}
		values[name] = v
	}
	return values, nil
}
