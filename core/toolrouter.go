package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prediqt/voicepipe/core/llms"
)

// toolRouter resolves tool invocations requested by the model against the
// registered tool set and executes them under the owning generation's
// context.
type toolRouter struct {
	tools map[string]llms.Tool
	order []llms.Tool
}

func newToolRouter(tools ...llms.Tool) *toolRouter {
	router := &toolRouter{tools: map[string]llms.Tool{}}
	for _, tool := range tools {
		if _, taken := router.tools[tool.Name]; taken {
			continue
		}
		router.tools[tool.Name] = tool
		router.order = append(router.order, tool)
	}
	return router
}

// available lists the registered tools in registration order.
func (r *toolRouter) available() []llms.Tool {
	if r == nil {
		return nil
	}
	return r.order
}

// dispatch executes one tool call. Unknown tools and execution failures
// produce a fallback response the model can apologize from instead of
// failing the generation. The second return reports whether the result may
// be delivered: it is false when the generation was cancelled while the
// tool ran, in which case the result must be discarded.
func (r *toolRouter) dispatch(ctx context.Context, call llms.ToolCall) (llms.ToolCall, bool, bool) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	result := call
	failed := false

	tool, found := r.tools[call.Name]
	if !found {
		err := fmt.Errorf("tool not found: %s", call.Name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Response = fmt.Sprintf("The tool %q is not available. Apologize briefly and carry on without it.", call.Name)
		failed = true
	} else {
		response, err := tool.Execute(call.Arguments)
		if err != nil {
			err = fmt.Errorf("failed to execute tool %q: %w", call.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result.Response = fmt.Sprintf("The tool %q failed. Apologize briefly and carry on without its result.", call.Name)
			failed = true
		} else {
			result.Response = response
		}
	}

	if ctx.Err() != nil {
		return llms.ToolCall{}, failed, false
	}
	return result, failed, true
}
