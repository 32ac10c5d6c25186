package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves parameters from a map and records requested names.
type fakeAPI struct {
	values    map[string]string
	getErr    error
	requested []string
	decrypted bool
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.requested = append(f.requested, *in.Name)
	f.decrypted = in.WithDecryption != nil && *in.WithDecryption
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, &types.ParameterNotFound{Message: strPtr("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v}}, nil
}

func strPtr(s string) *string { return &s }

func TestGet_HappyPath(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/crossfitbot/prod/operator_address": " 5511988887777 \n"}}
	client, err := New(api, "/crossfitbot/prod/")
	require.NoError(t, err)

	v, err := client.Get(context.Background(), ParamOperatorAddress)
	require.NoError(t, err)
	require.Equal(t, "5511988887777", v)
	require.Equal(t, []string{"/crossfitbot/prod/operator_address"}, api.requested)
	require.True(t, api.decrypted)
}

func TestGet_NoPrefix(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"status_token": "abc"}}
	client, err := New(api, "")
	require.NoError(t, err)
	v, err := client.Get(context.Background(), ParamStatusToken)
	require.NoError(t, err)
	require.Equal(t, "abc", v)
}

func TestGet_NotFound(t *testing.T) {
	client, err := New(&fakeAPI{}, "/p")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGet_MissingValue(t *testing.T) {
	api := &missingValueAPI{}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

type missingValueAPI struct{}

func (missingValueAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name}}, nil
}

func TestGet_APIError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")}, "")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGet_Validation(t *testing.T) {
	_, err := (&Client{}).Get(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	_, err = New(nil, "")
	require.ErrorContains(t, err, "must not be nil")
}

func TestResolve(t *testing.T) {
	api := &fakeAPI{values: map[string]string{
		"/bot/operator_address": "5511988887777",
		"/bot/status_token":     "tok",
	}}
	client, err := New(api, "/bot")
	require.NoError(t, err)

	got, err := client.Resolve(context.Background(), ParamOperatorAddress, ParamBackOfficeAddress, ParamStatusToken)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		ParamOperatorAddress: "5511988887777",
		ParamStatusToken:     "tok",
	}, got)

	api.getErr = errors.New("throttled")
	_, err = client.Resolve(context.Background(), ParamOperatorAddress)
	require.ErrorContains(t, err, "throttled")
}
