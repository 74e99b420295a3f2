// Package terraform pulls Terraform code out of model answers and tidies it
// for download. It does not validate the configuration.
package terraform

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// FileName is the name suggested for a downloaded stack.
const FileName = "main.tf"

// ExtractHCL returns the contents of the Terraform code fences in answer,
// joined by blank lines. Fences tagged hcl, terraform or tf count, as do
// untagged ones. An answer without fences is returned trimmed, on the
// assumption that it is bare HCL.
func ExtractHCL(answer string) string {
	var (
		blocks  []string
		current []string
		inBlock bool
		keep    bool
	)

	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				if keep {
					blocks = append(blocks, strings.Join(current, "\n"))
				}
				current = nil
			} else {
				keep = isTerraformFence(strings.TrimPrefix(trimmed, "```"))
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	// Unterminated fence at the end of a truncated answer.
	if inBlock && keep && len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}

	if len(blocks) == 0 {
		return strings.TrimSpace(answer)
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

func isTerraformFence(info string) bool {
	switch strings.ToLower(strings.TrimSpace(info)) {
	case "", "hcl", "terraform", "tf":
		return true
	}
	return strings.HasSuffix(strings.ToLower(info), ".tf")
}

// Format applies canonical Terraform formatting to src and ensures a trailing
// newline.
func Format(src string) []byte {
	out := hclwrite.Format([]byte(src))
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

// Resources lists the resource addresses ("type.name") declared in src, in
// source order. Parse problems are returned as diagnostics alongside whatever
// could be read.
func Resources(src string) ([]string, hcl.Diagnostics) {
	file, diags := hclparse.NewParser().ParseHCL([]byte(src), FileName)
	if file == nil || file.Body == nil {
		return nil, diags
	}

	schema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "resource", LabelNames: []string{"type", "name"}},
		},
	}
	content, _, contentDiags := file.Body.PartialContent(schema)
	diags = append(diags, contentDiags...)
	if content == nil {
		return nil, diags
	}

	var addrs []string
	for _, block := range content.Blocks.OfType("resource") {
		addrs = append(addrs, block.Labels[0]+"."+block.Labels[1])
	}
	return addrs, diags
}
