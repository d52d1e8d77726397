package bounce

import "context"

// InvokeOptions carries the per-call settings handed to an adapter. The
// cancellation signal and deadline ride on the context.
type InvokeOptions struct {
	Tier  TaskTier
	Trace *FlowTrace
}

// Invoker is one LLM backend behind a uniform invoke capability. Adapters
// never return an error: failures come back as a Vote with Error set and
// Confidence forced to zero.
type Invoker interface {
	Descriptor() ProviderDescriptor
	Invoke(ctx context.Context, text string, opts InvokeOptions) Vote
}
