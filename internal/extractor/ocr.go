package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/textract"
)

// OCRClient recovers text from a document already staged in object storage.
type OCRClient interface {
	DetectDocumentText(ctx context.Context, bucket, key string) (string, error)
}

// TextractClient implements OCRClient against AWS Textract's synchronous
// single-page DetectDocumentText API, referencing the object by its S3
// location rather than sending bytes inline (§4.6).
type TextractClient struct {
	client *textract.Textract
}

// NewTextractClient builds a Textract-backed OCR client for region.
func NewTextractClient(region string) (*TextractClient, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &TextractClient{client: textract.New(sess)}, nil
}

// DetectDocumentText runs Textract's DETECT_TEXT analysis against the S3
// object at bucket/key and concatenates the recognized LINE blocks.
func (t *TextractClient) DetectDocumentText(ctx context.Context, bucket, key string) (string, error) {
	out, err := t.client.DetectDocumentTextWithContext(ctx, &textract.DetectDocumentTextInput{
		Document: &textract.Document{
			S3Object: &textract.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("textract detect_document_text failed: %w", err)
	}

	var lines []string
	for _, block := range out.Blocks {
		if block.BlockType != nil && *block.BlockType == textract.BlockTypeLine && block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

var _ OCRClient = (*TextractClient)(nil)
