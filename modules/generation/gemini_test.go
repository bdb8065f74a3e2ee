package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"shotbook-server/modules/common/model"
)

type recordingGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (r *recordingGenerator) GenerateContentWithRetry(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	r.model = modelName
	r.contents = contents
	r.config = config
	return r.resp, r.err
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 34,
		},
	}
}

func TestGeminiText_JSONMode(t *testing.T) {
	gen := &recordingGenerator{resp: textResponse(
		&genai.Part{Text: "thinking...", Thought: true},
		&genai.Part{Text: `{"a":1}`},
	)}
	text := NewGeminiText(gen, "gemini-2.5-flash")

	out, usage, err := text.GenerateText(context.Background(), "prompt", true)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, out)
	require.Equal(t, model.Usage{InputUnits: 12, OutputUnits: 34}, usage)
	require.Equal(t, "gemini-2.5-flash", gen.model)
	require.Equal(t, "application/json", gen.config.ResponseMIMEType)

	_, _, err = text.GenerateText(context.Background(), "prompt", false)
	require.NoError(t, err)
	require.Empty(t, gen.config.ResponseMIMEType)
}

func TestGeminiText_Errors(t *testing.T) {
	_, _, err := NewGeminiText(&recordingGenerator{err: errBoom}, "m").GenerateText(context.Background(), "p", false)
	require.ErrorIs(t, err, errBoom)

	_, _, err = NewGeminiText(&recordingGenerator{resp: textResponse()}, "m").GenerateText(context.Background(), "p", false)
	require.Error(t, err)
}

func TestGeminiImage_AttachesReferences(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	gen := &recordingGenerator{resp: textResponse(
		&genai.Part{Text: "here is your frame"},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{9, 9}}},
	)}
	images := NewGeminiImage(gen, "gemini-2.5-flash-image")

	data, _, err := images.GenerateImage(context.Background(), ImageRequest{
		Prompt: "Max in the diner",
		References: []model.Asset{
			{Name: "Max", Type: model.AssetCharacter, Image: png},
			{Name: "Diner", Type: model.AssetLocation},
			{Name: "Noir", Type: model.AssetStyle, Image: []byte{0xff, 0xd8, 0xff, 0xe0}, ImageMIME: "image/jpeg"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, data)

	parts := gen.contents[0].Parts
	require.Len(t, parts, 3)
	require.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	require.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	require.Contains(t, parts[2].Text, "Max in the diner")
	require.Contains(t, parts[2].Text, `"Noir"`)
	require.Equal(t, "16:9", gen.config.ImageConfig.AspectRatio)
}

func TestGeminiImage_NoImage(t *testing.T) {
	gen := &recordingGenerator{resp: textResponse(&genai.Part{Text: "I can't draw that"})}
	_, _, err := NewGeminiImage(gen, "m").GenerateImage(context.Background(), ImageRequest{Prompt: "p", AspectRatio: "1:1"})
	require.Error(t, err)
	require.Equal(t, "1:1", gen.config.ImageConfig.AspectRatio)
}
