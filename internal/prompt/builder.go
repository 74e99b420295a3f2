package prompt

import "fmt"

// DescribeInstructions follows the diagram in the describe request.
const DescribeInstructions = `
You are an AWS Certified Solutions Architect with extensive experience in interpreting and explaining AWS Architecture diagrams. Given an architecture diagram as input, your task is to provide a detailed, step-by-step description of the components and their interactions within the architecture.

When describing the architecture, follow these guidelines:

1. Identify the main components and services depicted in the diagram.
2. Explain the flow of data and requests through the architecture, starting from the client or user interface and tracing the path through various components.
3. Describe the purpose and role of each component in the architecture, highlighting its responsibilities and how it contributes to the overall system.
`

const (
	convertIntro      = "Take these example Terraform code snippets as reference:"
	convertTransition = "Based on these examples and the following schema description, generate a Terraform stack:"
)

const updateTemplate = `
Here's the current Terraform stack:
` + "```hcl" + `
%s
` + "```" + `

Please apply the following updates to this Terraform stack:
%s

Provide the updated Terraform stack with the requested changes.
`

// BuildDescribe returns the request asking the model to describe a diagram.
// The image is sent as-is; callers guarantee it is non-empty.
func BuildDescribe(image []byte) []Message {
	return []Message{{
		Role: RoleUser,
		Content: []Block{
			ImageBlock(ImageFormatPNG, image),
			TextBlock(DescribeInstructions),
		},
	}}
}

// BuildConvert returns the request asking the model to turn a description into
// Terraform. Examples are numbered from 1 in the order given.
func BuildConvert(description string, examples []string) []Message {
	content := make([]Block, 0, len(examples)+3)
	content = append(content, TextBlock(convertIntro))
	for i, example := range examples {
		n := i + 1
		content = append(content, TextBlock(fmt.Sprintf("\n<example%d>\n%s\n</example%d>\n", n, example, n)))
	}
	content = append(content, TextBlock(convertTransition), TextBlock(description))

	return []Message{{Role: RoleUser, Content: content}}
}

// BuildUpdate returns the request asking the model to revise currentStack.
func BuildUpdate(currentStack, updateRequest string) []Message {
	return []Message{{
		Role:    RoleUser,
		Content: []Block{TextBlock(fmt.Sprintf(updateTemplate, currentStack, updateRequest))},
	}}
}
