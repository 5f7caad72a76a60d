package tool

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// RegisterGenkit exposes the tools to the model through Genkit: names,
// descriptions, and input schemas derived from the typed input structs.
//
// The handlers delegate to the same implementations the Registry dispatches
// to, but during a query turn they are not invoked by Genkit. The
// orchestrator generates with tool execution disabled and routes requested
// calls through Registry.Dispatch itself.
func RegisterGenkit(g *genkit.Genkit, search *Search, outline *Outline) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if search == nil || outline == nil {
		return nil, fmt.Errorf("search and outline tools are required")
	}

	tools := []ai.Tool{
		genkit.DefineTool(g, SearchToolName, searchDescription,
			func(ctx *ai.ToolContext, in SearchInput) (string, error) {
				res, err := search.Run(ctx, in)
				if err != nil {
					return "", err
				}
				return res.Text, nil
			}),
		genkit.DefineTool(g, OutlineToolName, outlineDescription,
			func(ctx *ai.ToolContext, in OutlineInput) (string, error) {
				res, err := outline.Run(ctx, in)
				if err != nil {
					return "", err
				}
				return res.Text, nil
			}),
	}

	return tools, nil
}
