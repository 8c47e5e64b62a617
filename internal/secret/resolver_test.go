package secret

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params     map[string]string
	calls      int
	batchCalls int
}

func (f *fakeSSMClient) GetParameters(_ context.Context, input *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batchCalls++
	if input.WithDecryption == nil || !*input.WithDecryption {
		return nil, fmt.Errorf("expected decryption to be requested")
	}
	if len(input.Names) > ssmBatchSize {
		return nil, fmt.Errorf("too many names: %d", len(input.Names))
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range input.Names {
		val, ok := f.params[name]
		if !ok {
			out.InvalidParameters = append(out.InvalidParameters, name)
			continue
		}
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(val)})
	}
	return out, nil
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if input.WithDecryption == nil || !*input.WithDecryption {
		return nil, fmt.Errorf("expected decryption to be requested")
	}
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

func TestSSMResolver_GetSecret(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{"/iub-recorder/jwt-secret": "super-secret-value"}}
	resolver := NewSSMResolver(client)
	ctx := context.Background()

	val, err := resolver.GetSecret(ctx, "/iub-recorder/jwt-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "super-secret-value" {
		t.Fatalf("expected %q, got %q", "super-secret-value", val)
	}

	if _, err := resolver.GetSecret(ctx, "/iub-recorder/nonexistent"); err == nil {
		t.Fatal("expected error for missing parameter, got nil")
	}
}

func TestEnvResolver_GetSecret(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_SECRET", "env-secret-value")
	resolver := NewEnvResolver()

	val, err := resolver.GetSecret(context.Background(), "/iub-recorder/google-client-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "env-secret-value" {
		t.Fatalf("expected %q, got %q", "env-secret-value", val)
	}

	if _, err := resolver.GetSecret(context.Background(), "/iub-recorder/not-set-anywhere"); err == nil {
		t.Fatal("expected error for missing env var, got nil")
	}
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/iub-recorder/jwt-secret", "JWT_SECRET"},
		{"/iub-recorder/google-client-secret", "GOOGLE_CLIENT_SECRET"},
		{"/iub-recorder/api-gateway-secret", "API_GATEWAY_SECRET"},
		{"plain", "PLAIN"},
	}

	for _, tc := range tests {
		if got := paramNameToEnvVar(tc.input); got != tc.expected {
			t.Errorf("paramNameToEnvVar(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestCachingResolver_CachesSuccessOnly(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{"/iub-recorder/jwt-secret": "v"}}
	r := NewCachingResolver(NewSSMResolver(client))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if v, err := r.GetSecret(ctx, "/iub-recorder/jwt-secret"); err != nil || v != "v" {
			t.Fatalf("GetSecret = %q, %v", v, err)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected 1 SSM call, got %d", client.calls)
	}

	_, _ = r.GetSecret(ctx, "/iub-recorder/missing")
	_, _ = r.GetSecret(ctx, "/iub-recorder/missing")
	if client.calls != 3 {
		t.Errorf("failures should not be cached, got %d calls", client.calls)
	}
}

func TestLookup_Fallback(t *testing.T) {
	r := NewSSMResolver(&fakeSSMClient{params: map[string]string{}})
	if got := Lookup(context.Background(), r, "/iub-recorder/jwt-secret", "dev"); got != "dev" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestCachingResolver_Preload(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{
		"/iub-recorder/jwt-secret":           "jwt",
		"/iub-recorder/google-client-secret": "google",
	}}
	r := NewCachingResolver(NewSSMResolver(client))
	ctx := context.Background()

	if err := r.Preload(ctx, "/iub-recorder/jwt-secret", "/iub-recorder/google-client-secret", "/iub-recorder/api-gateway-secret"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if client.batchCalls != 1 {
		t.Errorf("expected 1 GetParameters call, got %d", client.batchCalls)
	}

	if v, _ := r.GetSecret(ctx, "/iub-recorder/google-client-secret"); v != "google" {
		t.Errorf("expected preloaded value, got %q", v)
	}
	if client.calls != 0 {
		t.Errorf("preloaded secrets should not hit GetParameter, got %d calls", client.calls)
	}

	// Missing names are still looked up individually.
	if got := Lookup(ctx, r, "/iub-recorder/api-gateway-secret", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 GetParameter call for the missing name, got %d", client.calls)
	}
}

func TestSSMResolver_GetSecrets_Batches(t *testing.T) {
	params := map[string]string{}
	var names []string
	for i := 0; i < 23; i++ {
		name := fmt.Sprintf("/iub-recorder/p%d", i)
		params[name] = fmt.Sprint(i)
		names = append(names, name)
	}
	client := &fakeSSMClient{params: params}

	values, err := NewSSMResolver(client).(BatchResolver).GetSecrets(context.Background(), names)
	if err != nil {
		t.Fatalf("GetSecrets failed: %v", err)
	}
	if len(values) != 23 || values["/iub-recorder/p22"] != "22" {
		t.Errorf("unexpected values %v", values)
	}
	if client.batchCalls != 3 {
		t.Errorf("expected 3 GetParameters calls, got %d", client.batchCalls)
	}
}

func TestCachingResolver_PreloadWithoutBatchSupport(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-jwt")
	r := NewCachingResolver(NewEnvResolver())
	if err := r.Preload(context.Background(), "/iub-recorder/jwt-secret"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if v, _ := r.GetSecret(context.Background(), "/iub-recorder/jwt-secret"); v != "env-jwt" {
		t.Errorf("expected env value, got %q", v)
	}
}
