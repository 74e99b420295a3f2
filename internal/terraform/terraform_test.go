package terraform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHCL(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		expected string
	}{
		{
			name:     "hcl fence with prose around it",
			answer:   "Here is the stack:\n```hcl\nresource \"aws_s3_bucket\" \"b\" {\n  bucket = \"x\"\n}\n```\nLet me know if you need more.",
			expected: "resource \"aws_s3_bucket\" \"b\" {\n  bucket = \"x\"\n}",
		},
		{
			name:     "several fences joined",
			answer:   "```terraform\nprovider \"aws\" {}\n```\ntext\n```main.tf\nresource \"aws_vpc\" \"v\" {}\n```",
			expected: "provider \"aws\" {}\n\nresource \"aws_vpc\" \"v\" {}",
		},
		{
			name:     "non terraform fences skipped",
			answer:   "```bash\nterraform apply\n```\n```\nresource \"aws_vpc\" \"v\" {}\n```",
			expected: "resource \"aws_vpc\" \"v\" {}",
		},
		{
			name:     "no fences",
			answer:   "\nresource \"aws_vpc\" \"v\" {}\n\n",
			expected: "resource \"aws_vpc\" \"v\" {}",
		},
		{
			name:     "unterminated fence",
			answer:   "```hcl\nresource \"aws_vpc\" \"v\" {\n",
			expected: "resource \"aws_vpc\" \"v\" {",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractHCL(tt.answer))
		})
	}
}

func TestFormat(t *testing.T) {
	src := "resource \"aws_s3_bucket\" \"b\" {\nbucket=\"x\"\n}"

	out := Format(src)

	assert.Equal(t, "resource \"aws_s3_bucket\" \"b\" {\n  bucket = \"x\"\n}\n", string(out))
}

func TestResources(t *testing.T) {
	src := `
provider "aws" {
  region = "us-east-1"
}

resource "aws_lambda_function" "processor" {
  function_name = "processor"
}

resource "aws_s3_bucket" "input" {
  bucket = "input"
}
`
	addrs, diags := Resources(src)

	assert.False(t, diags.HasErrors())
	assert.Equal(t, []string{"aws_lambda_function.processor", "aws_s3_bucket.input"}, addrs)
}

func TestResourcesReportsParseErrors(t *testing.T) {
	_, diags := Resources(`resource "aws_vpc" "v" {`)

	assert.True(t, diags.HasErrors())
}
