package gcp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"
)

// --- Vision OCR Prompts ---
const OCRSystemPrompt = `Convert the provided image into Markdown format. Ensure that all content is included, such as headers, footers, subtexts, images, tables, and any other elements.

Requirements:
- Output Only Markdown: Return solely the Markdown content without any additional explanations or comments.
- No Delimiters: Do not use code fences or delimiters like ` + "```markdown" + `.
- Complete Content: Do not omit any part of the document, including headers, footers, and subtext.
- Structure: Use appropriate Markdown headers (# ## ###) to organize the content hierarchically.
- Text Content: Transcribe all visible text accurately, maintaining the original formatting as closely as possible.
- Images: For each image, provide a descriptive alt text and use the Markdown image syntax ![alt text](image_url).
- Lists: Use - for unordered lists and 1. 2. 3. for ordered lists, preserving the original structure.
- Tables: Represent tables using Markdown table syntax, including headers if present.
- Links: Convert any hyperlinks using the Markdown link syntax [link text](url).
- Formatting: Apply **bold**, *italic*, or ~~strikethrough~~ formatting where appropriate.
- Quotes: Use > for blockquotes or notable text sections.
- Horizontal Rules: Use --- to represent significant section breaks.
- Special Elements: Describe any charts, graphs, or complex visual elements in detail using blockquotes.

For financial documents like bills, invoices, receipts, and tax forms:
- Extract key-value pairs in a structured format using tables or definition lists.
- Present line items in a Markdown table with columns for description, quantity, unit price and total.
- Preserve the original formatting of account numbers, dates, and reference numbers.

For legal, technical and academic documents:
- Use hierarchical headers to organize the document and keep key sections and clauses intact.
- Preserve the original formatting of terms, definitions, dates and data.
- If the document contains charts or graphs, describe the data they represent in detail.`

const OCRUserPrompt = "Please convert this image to Markdown following the given instructions:"

// ErrRefusal is returned when the model declines to transcribe an image.
var ErrRefusal = errors.New("model response indicates refusal")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient lazily configures one generative model per model name.
type VertexClient struct {
	baseClient      *genai.Client
	maxOutputTokens int32

	mu     sync.Mutex
	models map[string]*genai.GenerativeModel
}

// NewVertexClient creates a new client for the vision OCR models.
func NewVertexClient(ctx context.Context, projectID, region string, maxOutputTokens int) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		baseClient:      baseClient,
		maxOutputTokens: int32(maxOutputTokens),
		models:          make(map[string]*genai.GenerativeModel),
	}, nil
}

func (c *VertexClient) model(name string) *genai.GenerativeModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[name]; ok {
		return m
	}
	m := c.baseClient.GenerativeModel(name)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: genai.Ptr(c.maxOutputTokens),
		Temperature:     genai.Ptr[float32](0.0),
	}
	c.models[name] = m
	return m
}

// GenerateMarkdown transcribes the image at imageURL into Markdown using modelName.
func (c *VertexClient) GenerateMarkdown(ctx context.Context, imageURL, modelName string) (string, error) {
	filePart := genai.FileData{
		MIMEType: ImageMIMEType(imageURL),
		FileURI:  ToGCSURI(imageURL),
	}

	resp, err := c.model(modelName).GenerateContent(ctx, filePart, genai.Text(OCRUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from %s: %w", modelName, err)
	}

	markdown := ExtractMarkdown(resp)
	if err := CheckRefusal(markdown); err != nil {
		return "", err
	}
	return markdown, nil
}

// Close releases the underlying Vertex AI client.
func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ExtractMarkdown concatenates the text parts of the first candidate and strips
// any code fence the model wrapped around its answer.
func ExtractMarkdown(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return StripFences(b.String())
}

// StripFences removes a surrounding ```markdown (or bare ```) fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```md")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// CheckRefusal returns ErrRefusal when markdown reads like a model refusal.
func CheckRefusal(markdown string) error {
	lower := strings.ToLower(markdown)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("%w: %q", ErrRefusal, phrase)
		}
	}
	return nil
}

// ImageMIMEType guesses the MIME type of an image from its URL path.
func ImageMIMEType(imageURL string) string {
	p := imageURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}
