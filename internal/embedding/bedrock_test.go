package embedding

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
)

type fakeInvoker struct {
	lastModel string
	lastBody  []byte
	resp      []byte
	err       error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastModel = *in.ModelId
	f.lastBody = in.Body
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.resp}, nil
}

func TestBedrockEmbedder_Embed(t *testing.T) {
	inv := &fakeInvoker{resp: []byte(`{"embedding":[0.1,0.2,0.3],"inputTextTokenCount":4}`)}
	e := NewBedrockEmbedder(inv, "amazon.titan-embed-text-v1", 3)

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, "amazon.titan-embed-text-v1", inv.lastModel)

	var req map[string]string
	require.NoError(t, json.Unmarshal(inv.lastBody, &req))
	assert.Equal(t, "hello", req["inputText"])
}

func TestBedrockEmbedder_Errors(t *testing.T) {
	inv := &fakeInvoker{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	e := NewBedrockEmbedder(inv, "m", 3)
	_, err := e.Embed(context.Background(), "x")
	assert.True(t, fault.IsTransient(err))

	inv = &fakeInvoker{err: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad"}}
	e = NewBedrockEmbedder(inv, "m", 3)
	_, err = e.Embed(context.Background(), "x")
	assert.False(t, fault.IsTransient(err))

	inv = &fakeInvoker{resp: []byte(`{"embedding":[0.1]}`)}
	e = NewBedrockEmbedder(inv, "m", 3)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}
